package cloud

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // The vendor protocol mandates MD5 digests
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is the Ai-Link service root.
const DefaultBaseURL = "https://ailink-api.hotwater.com.cn/AiLinkService"

// Header values the mobile app sends. The service rejects requests that do
// not look like they came from the app.
const (
	headerVersion        = "V1.0.1"
	headerSource         = "IOS"
	headerAcceptLanguage = "zh-Hans-CN;q=1"
	headerUserAgent      = "AI jia zhi kong/2.2.5 (iPhone; iOS 26.0; Scale/3.00)"
	traceIDMiddle        = "69861"
)

// Credentials are the session values captured from the Ai-Link app.
// They are never mutated after construction.
type Credentials struct {
	AccessToken string
	UserID      string
	FamilyID    string
	Cookie      string // optional
	Mobile      string // optional, informational only
}

// Complete reports whether the three required values are present.
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.UserID != "" && c.FamilyID != ""
}

// Session signs requests with a fixed set of credentials.
//
// A Session has no mutable state; concurrent BuildRequest calls share it
// without locking.
type Session struct {
	base  *url.URL
	creds Credentials

	now   func() time.Time
	nonce func() string
}

// NewSession parses baseURL (DefaultBaseURL when empty) and captures creds.
// Missing credentials are not an error here; BuildRequest reports them.
func NewSession(baseURL string, creds Credentials) (*Session, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parsing base url: %q is not absolute", baseURL)
	}

	return &Session{
		base:  base,
		creds: creds,
		now:   time.Now,
		nonce: func() string { return strings.ToUpper(uuid.NewString()) },
	}, nil
}

// UserID returns the account identifier. Safe to log.
func (s *Session) UserID() string { return s.creds.UserID }

// FamilyID returns the household identifier. Safe to log.
func (s *Session) FamilyID() string { return s.creds.FamilyID }

// BuildRequest produces a signed POST for path with body encoded as compact
// JSON. It performs no I/O.
//
// Parameters:
//   - ctx: Bound to the request; cancelling it aborts the call in Send
//   - path: Endpoint below the base URL, e.g. "appDevice/getHomepageV2"
//   - body: Any JSON-serialisable value; struct field order is preserved
//
// Returns:
//   - *http.Request: Ready for Transport.Send
//   - error: *AuthError when credentials are incomplete, or an encoding error
func (s *Session) BuildRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	if !s.creds.Complete() {
		return nil, &AuthError{Message: "no credentials configured"}
	}

	payload, err := compactJSON(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", path, err)
	}

	endpoint := s.base.JoinPath(strings.TrimPrefix(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", path, err)
	}

	ts := strconv.FormatInt(s.now().UnixMilli(), 10)

	req.Host = s.base.Host
	h := req.Header
	h.Set("Authorization", "Bearer "+s.creds.AccessToken)
	h.Set("version", headerVersion)
	h.Set("familyUk", "")
	h.Set("UserId", s.creds.UserID)
	h.Set("timestamp", ts)
	h.Set("nonce", s.nonce())
	h.Set("Accept", "*/*")
	h.Set("source", headerSource)
	h.Set("md5data", md5Hex(payload))
	h.Set("Accept-Language", headerAcceptLanguage)
	h.Set("Content-Type", "application/json")
	h.Set("traceId", ts+"-"+traceIDMiddle+"-"+s.creds.UserID+"-00")
	h.Set("User-Agent", headerUserAgent)
	h.Set("Cookie", s.creds.Cookie)
	h.Set("sign", "")

	return req, nil
}

// Encode computes the body "encode" field: MD5 of input followed by the
// current unix time in seconds.
func (s *Session) Encode(input string) string {
	return md5Hex([]byte(input + strconv.FormatInt(s.now().Unix(), 10)))
}

// compactJSON marshals v without HTML escaping and without the trailing
// newline json.Encoder adds, so the md5data digest matches the bytes sent.
func compactJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b) //nolint:gosec // Vendor protocol
	return hex.EncodeToString(sum[:])
}
