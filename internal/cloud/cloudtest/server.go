// Package cloudtest provides an in-process fake of the Ai-Link service for
// tests. It speaks the same envelope format and records every command.
package cloudtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Invocation is one recorded device/invokeMethod call.
type Invocation struct {
	DeviceID   string
	DeviceType string
	Identifier string
	Input      map[string]string
}

// Failure forces a response for one endpoint.
type Failure struct {
	HTTPStatus     int // non-zero: reply with this HTTP status and no envelope
	EnvelopeStatus int // non-zero: reply 200 with this envelope status
	Delay          time.Duration
	Body           string // non-empty: reply 200 with this raw body
}

// Server is a fake Ai-Link cloud backed by httptest.Server.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	devices     []map[string]any
	rooms       []map[string]any
	statuses    map[string]json.RawMessage
	failures    map[string]Failure
	invocations []Invocation
	headers     []http.Header
	calls       map[string]int
}

// NewServer starts a fake cloud. Close it with t.Cleanup(srv.Close).
func NewServer() *Server {
	s := &Server{
		statuses: make(map[string]json.RawMessage),
		failures: make(map[string]Failure),
		calls:    make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// BaseURL returns the URL to pass as cloud.Options.BaseURL.
func (s *Server) BaseURL() string {
	return s.URL + "/AiLinkService"
}

// AddDevice lists a device in the flat homepage list.
func (s *Server) AddDevice(id, category, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, map[string]any{
		"deviceId":       id,
		"deviceCategory": category,
		"deviceName":     name,
		"productName":    "Gas Water Heater",
		"productModel":   "JSQ31-VJS",
	})
}

// RemoveDevice drops a device from the homepage listing.
func (s *Server) RemoveDevice(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.devices[:0]
	for _, d := range s.devices {
		if d["deviceId"] != id {
			kept = append(kept, d)
		}
	}
	s.devices = kept
}

// AddRoom lists devices only under a room, leaving the flat list empty.
func (s *Server) AddRoom(name string, devices ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, map[string]any{"roomName": name, "deviceList": devices})
}

// SetOutput sets the post-event outputData returned for a device.
func (s *Server) SetOutput(deviceID string, output map[string]any) {
	statusInfo, _ := json.Marshal(map[string]any{
		"profile": map[string]any{
			"deviceType":     "JSQ31-VJS",
			"deviceFirmware": []map[string]any{{"type": "3", "version": "V1.0.7"}},
		},
		"events": []map[string]any{{"identifier": "post", "outputData": output}},
	})
	info, _ := json.Marshal(map[string]any{
		"appDeviceStatusInfoEntity": map[string]any{"statusInfo": string(statusInfo)},
	})
	s.SetStatus(deviceID, info)
}

// SetStatus sets the raw info object returned for a device.
func (s *Server) SetStatus(deviceID string, info json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[deviceID] = info
}

// Fail forces every call to path (e.g. "device/invokeMethod") to fail.
func (s *Server) Fail(path string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = f
}

// Recover clears a forced failure.
func (s *Server) Recover(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, path)
}

// Invocations returns a copy of the recorded commands.
func (s *Server) Invocations() []Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Invocation(nil), s.invocations...)
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastHeaders returns the headers of the most recent request.
func (s *Server) LastHeaders() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.headers) == 0 {
		return nil
	}
	return s.headers[len(s.headers)-1].Clone()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/AiLinkService/")
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.calls[path]++
	s.headers = append(s.headers, r.Header.Clone())
	failure, failing := s.failures[path]
	s.mu.Unlock()

	if failing {
		if failure.Delay > 0 {
			select {
			case <-time.After(failure.Delay):
			case <-r.Context().Done():
				return
			}
		}
		switch {
		case failure.HTTPStatus != 0:
			w.WriteHeader(failure.HTTPStatus)
			return
		case failure.Body != "":
			_, _ = io.WriteString(w, failure.Body)
			return
		case failure.EnvelopeStatus != 0:
			writeEnvelope(w, failure.EnvelopeStatus, "forced failure", nil)
			return
		}
	}

	switch path {
	case "appDevice/getHomepageV2":
		s.mu.Lock()
		info := map[string]any{
			"devInfoItemInfoList":  s.devices,
			"roomInfoItemInfoList": s.rooms,
		}
		s.mu.Unlock()
		writeEnvelope(w, 200, "success", info)

	case "appDevice/getDeviceCurrInfo":
		var req struct {
			DeviceID string `json:"deviceId"`
		}
		_ = json.Unmarshal(body, &req)
		s.mu.Lock()
		info, ok := s.statuses[req.DeviceID]
		s.mu.Unlock()
		if !ok {
			writeEnvelope(w, 404, "device not found", nil)
			return
		}
		writeEnvelope(w, 200, "success", info)

	case "device/invokeMethod":
		var req struct {
			PayLoad string `json:"payLoad"`
		}
		_ = json.Unmarshal(body, &req)
		var payload struct {
			Profile struct {
				DeviceID   string `json:"deviceId"`
				DeviceType string `json:"deviceType"`
			} `json:"profile"`
			Service struct {
				Identifier string            `json:"identifier"`
				InputData  map[string]string `json:"inputData"`
			} `json:"service"`
		}
		if err := json.Unmarshal([]byte(req.PayLoad), &payload); err != nil {
			writeEnvelope(w, 400, "bad payLoad", nil)
			return
		}
		s.mu.Lock()
		s.invocations = append(s.invocations, Invocation{
			DeviceID:   payload.Profile.DeviceID,
			DeviceType: payload.Profile.DeviceType,
			Identifier: payload.Service.Identifier,
			Input:      payload.Service.InputData,
		})
		s.mu.Unlock()
		writeEnvelope(w, 200, "success", nil)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeEnvelope(w http.ResponseWriter, status int, msg string, info any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "msg": msg, "info": info})
}
