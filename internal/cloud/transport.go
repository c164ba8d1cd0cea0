package cloud

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// statusOK is the vendor envelope's success status.
const statusOK = 200

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 4 << 20

// Envelope is the wrapper around every Ai-Link response.
//
//	{"status":200,"msg":"success","info":{...}}
type Envelope struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Info   json.RawMessage `json:"info"`
}

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport executes signed requests and classifies the result.
type Transport struct {
	doer   Doer
	logger Logger
}

// NewTransport wraps doer. A nil doer gets an *http.Client with timeout;
// per-call deadlines still come from the request context.
func NewTransport(doer Doer, timeout time.Duration) *Transport {
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}
	return &Transport{doer: doer, logger: noopLogger{}}
}

// SetLogger sets the logger for request tracing.
func (t *Transport) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	t.logger = logger
}

// Send executes req and decodes the vendor envelope.
//
// Returns:
//   - *Envelope: Only when the envelope status is 200
//   - error: *TransportError, *AuthError or *APIError
func (t *Transport) Send(req *http.Request) (*Envelope, error) {
	op := req.URL.Path
	start := time.Now()

	resp, err := t.doer.Do(req)
	if err != nil {
		// A cancelled or expired context surfaces here as well.
		if ctxErr := req.Context().Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}

	t.logger.Debug("cloud request completed",
		"path", op,
		"http_status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &APIError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	return decodeEnvelope(body)
}

// decodeEnvelope validates the vendor wrapper. A body without a status
// field is treated as malformed rather than as success.
func decodeEnvelope(body []byte) (*Envelope, error) {
	var head struct {
		Status *int `json:"status"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, &APIError{Message: fmt.Sprintf("malformed envelope: %v", err)}
	}
	if head.Status == nil {
		return nil, &APIError{Message: "malformed envelope: missing status"}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &APIError{Message: fmt.Sprintf("malformed envelope: %v", err)}
	}

	switch env.Status {
	case statusOK:
		return &env, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthError{StatusCode: env.Status, Message: env.Msg}
	default:
		return nil, &APIError{Code: env.Status, Message: env.Msg}
	}
}
