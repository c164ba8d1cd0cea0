// Package config handles loading and validating the Ai-Link bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Reading session credentials from an optional dotenv file
//   - Overriding with AILINK_* environment variables
//   - Validation of required fields and polling bounds
//
// Security Considerations:
//   - The access token and cookie grant full control of the user's heaters;
//     keep them in the credentials file or environment, not in config.yaml
//   - The credentials file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.GetPollInterval())
package config
