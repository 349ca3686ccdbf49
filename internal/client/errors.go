package client

import (
	"errors"
	"fmt"
)

// Sentinel errors for the spec'd failure taxonomy. Callers distinguish a
// missing credential (deployment problem) from a vendor rejection (runtime
// failure) and a poll timeout (vendor slow, retry may help).
var (
	ErrVendorUnavailable    = errors.New("vendor credential not configured")
	ErrEmptyResponse        = errors.New("vendor returned empty response")
	ErrTranscriptionFailed  = errors.New("transcription failed")
	ErrTranscriptionTimeout = errors.New("transcription polling timed out")
)

const maxVendorBodyLen = 500

// VendorError is a non-2xx response from a vendor API. Body is truncated so
// error payloads stay loggable and storable.
type VendorError struct {
	Vendor     string
	StatusCode int
	Body       string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Vendor, e.StatusCode, e.Body)
}

func newVendorError(vendor string, status int, body []byte) *VendorError {
	s := string(body)
	if len(s) > maxVendorBodyLen {
		s = s[:maxVendorBodyLen]
	}
	return &VendorError{Vendor: vendor, StatusCode: status, Body: s}
}
