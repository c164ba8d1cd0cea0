// Package logging provides structured logging for the Ai-Link bridge.
//
// Logger wraps go.uber.org/zap and exposes the key-value call style used
// throughout the codebase:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("device polled", "device_id", id, "duration_ms", ms)
//	logger.Error("command failed", "device_id", id, "error", err)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Security
//
// Never log the access token, cookie or mobile number. The cloud package
// only logs user and family identifiers.
package logging
