package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Endpoint paths below the base URL.
const (
	PathHomepage     = "appDevice/getHomepageV2"
	PathDeviceStatus = "appDevice/getDeviceCurrInfo"
	PathInvokeMethod = "device/invokeMethod"
)

// Fixed values for the vendor request bodies.
const (
	homePageVersion   = "3"
	appSource         = 2
	commandSource     = 1
	productType       = "19"
	invokeTimeLayout  = "2006-01-02 15:04:05"
	DefaultDeviceType = "JSQ31-VJS"
)

// DeviceInfo is one entry of the homepage device list.
type DeviceInfo struct {
	DeviceID       FlexString `json:"deviceId"`
	DeviceCategory FlexString `json:"deviceCategory"`
	DeviceName     string     `json:"deviceName"`
	ProductName    string     `json:"productName"`
	ProductModel   string     `json:"productModel"`
	RoomName       string     `json:"roomName"`
}

// FlexString accepts a JSON string or number. The vendor sends device IDs
// and categories as either.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Credentials Credentials

	// HTTPClient overrides the default *http.Client (tests use httptest).
	HTTPClient Doer

	// Timeout applies to the default HTTP client only.
	Timeout time.Duration

	// DeviceType is sent in the command profile. Defaults to DefaultDeviceType.
	DeviceType string

	Logger Logger
}

// Client implements the three Ai-Link endpoints the bridge needs.
// It is safe for concurrent use.
type Client struct {
	session    *Session
	transport  *Transport
	deviceType string
	logger     Logger
}

// NewClient builds a Client from opts.
func NewClient(opts Options) (*Client, error) {
	session, err := NewSession(opts.BaseURL, opts.Credentials)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	transport := NewTransport(opts.HTTPClient, opts.Timeout)
	transport.SetLogger(logger)

	deviceType := opts.DeviceType
	if deviceType == "" {
		deviceType = DefaultDeviceType
	}

	return &Client{
		session:    session,
		transport:  transport,
		deviceType: deviceType,
		logger:     logger,
	}, nil
}

// Session returns the signing session.
func (c *Client) Session() *Session { return c.session }

func (c *Client) post(ctx context.Context, path string, body any) (*Envelope, error) {
	req, err := c.session.BuildRequest(ctx, path, body)
	if err != nil {
		return nil, err
	}
	return c.transport.Send(req)
}

type homepageRequest struct {
	Encode          string `json:"encode"`
	HomePageVersion string `json:"homePageVersion"`
	UserID          string `json:"userId"`
	FamilyID        string `json:"familyId"`
}

type homepageInfo struct {
	Devices []DeviceInfo `json:"devInfoItemInfoList"`
	Rooms   []struct {
		RoomName string       `json:"roomName"`
		Devices  []DeviceInfo `json:"deviceList"`
	} `json:"roomInfoItemInfoList"`
}

// ListDevices returns every device in the family, of any category.
//
// The flat device list is preferred; when it is empty the per-room lists
// are flattened and each device inherits its room's name.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	env, err := c.post(ctx, PathHomepage, homepageRequest{
		Encode:          c.session.Encode(c.session.UserID()),
		HomePageVersion: homePageVersion,
		UserID:          c.session.UserID(),
		FamilyID:        c.session.FamilyID(),
	})
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	var info homepageInfo
	if len(env.Info) > 0 && !bytes.Equal(env.Info, []byte("null")) {
		if err := json.Unmarshal(env.Info, &info); err != nil {
			return nil, fmt.Errorf("listing devices: %w", &APIError{Message: fmt.Sprintf("decoding device list: %v", err)})
		}
	}

	if len(info.Devices) > 0 {
		return info.Devices, nil
	}

	var devices []DeviceInfo
	for _, room := range info.Rooms {
		for _, d := range room.Devices {
			if d.RoomName == "" {
				d.RoomName = room.RoomName
			}
			devices = append(devices, d)
		}
	}
	return devices, nil
}

type statusRequest struct {
	UserID   string `json:"userId"`
	FamilyID string `json:"familyId"`
	DeviceID string `json:"deviceId"`
	Encode   string `json:"encode"`
}

// FetchStatus returns the raw info object of getDeviceCurrInfo for one
// device. Decoding is left to the telemetry mapper.
func (c *Client) FetchStatus(ctx context.Context, deviceID string) (json.RawMessage, error) {
	env, err := c.post(ctx, PathDeviceStatus, statusRequest{
		UserID:   c.session.UserID(),
		FamilyID: c.session.FamilyID(),
		DeviceID: deviceID,
		Encode:   c.session.Encode(deviceID),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching status of %s: %w", deviceID, err)
	}
	return env.Info, nil
}

type invokeRequest struct {
	UserID        string `json:"userId"`
	FamilyID      string `json:"familyId"`
	AppSource     int    `json:"appSource"`
	CommandSource int    `json:"commandSource"`
	InvokeTime    string `json:"invokeTime"`
	PayLoad       string `json:"payLoad"`
}

type invokePayload struct {
	Profile struct {
		DeviceID    string `json:"deviceId"`
		ProductType string `json:"productType"`
		DeviceType  string `json:"deviceType"`
	} `json:"profile"`
	Service struct {
		Identifier string            `json:"identifier"`
		InputData  map[string]string `json:"inputData"`
	} `json:"service"`
}

// InvokeMethod sends a service call to a device. The vendor expects the
// profile and service wrapped as a JSON string in payLoad, with every input
// value as a string.
//
// Parameters:
//   - ctx: Deadline for the single HTTP call
//   - deviceID: Target device
//   - identifier: Vendor service name, e.g. "WaterCruiseOnOff"
//   - input: Service arguments, e.g. {"cruiseStatus": "1"}
func (c *Client) InvokeMethod(ctx context.Context, deviceID, identifier string, input map[string]string) error {
	var p invokePayload
	p.Profile.DeviceID = deviceID
	p.Profile.ProductType = productType
	p.Profile.DeviceType = c.deviceType
	p.Service.Identifier = identifier
	p.Service.InputData = input

	payload, err := compactJSON(p)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", identifier, err)
	}

	_, err = c.post(ctx, PathInvokeMethod, invokeRequest{
		UserID:        c.session.UserID(),
		FamilyID:      c.session.FamilyID(),
		AppSource:     appSource,
		CommandSource: commandSource,
		InvokeTime:    c.session.now().Format(invokeTimeLayout),
		PayLoad:       string(payload),
	})
	if err != nil {
		return fmt.Errorf("invoking %s on %s: %w", identifier, deviceID, err)
	}

	c.logger.Debug("command accepted", "device_id", deviceID, "identifier", identifier)
	return nil
}

// ID returns the vendor device identifier.
func (d DeviceInfo) ID() string { return string(d.DeviceID) }

// Name picks the user-facing name: deviceName, then productName.
func (d DeviceInfo) Name() string {
	if d.DeviceName != "" {
		return d.DeviceName
	}
	return d.ProductName
}

// CategoryCode parses the category. The listing sends it as a string or
// a number, so "19", 19 and 19.0 all give 19. ok is false for values that
// are not whole numbers.
func (d DeviceInfo) CategoryCode() (code int, ok bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(d.DeviceCategory)), 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}
