package pairing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds each authority request.
const DefaultTimeout = 10 * time.Second

// maxResponseSize bounds authority response bodies.
const maxResponseSize = 64 * 1024

// HTTPAuthority talks to the authority over HTTP and JSON.
type HTTPAuthority struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAuthority creates a client for the authority at baseURL.
// A zero timeout uses DefaultTimeout.
func NewHTTPAuthority(baseURL string, timeout time.Duration) *HTTPAuthority {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPAuthority{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the authority base URL.
func (a *HTTPAuthority) BaseURL() string {
	return a.baseURL
}

// RequestPairing submits the Tag's public key.
func (a *HTTPAuthority) RequestPairing(ctx context.Context, req *PairingRequest) (*PairingResponse, error) {
	var resp PairingResponse
	if err := a.do(ctx, http.MethodPost, PathPairing, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PairingStatus asks whether vehicleID is paired.
func (a *HTTPAuthority) PairingStatus(ctx context.Context, vehicleID string) (*Status, error) {
	var resp Status
	if err := a.do(ctx, http.MethodGet, PathPairingStatus+url.PathEscape(vehicleID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateVehicleKey requests a vehicle key for a VIN and device.
func (a *HTTPAuthority) GenerateVehicleKey(ctx context.Context, req *VehicleKeyRequest) (*VehicleKeyResponse, error) {
	var resp VehicleKeyResponse
	if err := a.do(ctx, http.MethodPost, PathGenerateKey, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchPairingRecord downloads the stored pairing of vehicleID for Anchor
// provisioning.
func (a *HTTPAuthority) FetchPairingRecord(ctx context.Context, vehicleID string) (*PairingRecord, error) {
	var resp PairingRecord
	path := PathVehicle + url.PathEscape(vehicleID) + PathVehiclePairing
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *HTTPAuthority) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// errorMessage extracts a message from an error body. Both this package's
// ErrorResponse and a bare {"detail": ...} body are understood.
func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	switch {
	case body.Error != "" && body.Details != "":
		return body.Error + ": " + body.Details
	case body.Error != "":
		return body.Error
	default:
		return body.Detail
	}
}
