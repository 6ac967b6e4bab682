// Package webhooksig verifies signed webhook deliveries from the platform.
// It is the receiver-side counterpart of the delivery signature scheme:
// HMAC-SHA256 over "<unix-timestamp>.<raw-body>", hex encoded, carried in
// the X-Innkeep-Signature header alongside X-Innkeep-Timestamp.
package webhooksig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"
)

const (
	// HeaderSignature carries the hex HMAC-SHA256 signature.
	HeaderSignature = "X-Innkeep-Signature"
	// HeaderTimestamp carries the unix timestamp the signature covers.
	HeaderTimestamp = "X-Innkeep-Timestamp"
	// HeaderEvent carries the event type of the delivery.
	HeaderEvent = "X-Innkeep-Event"

	// DefaultTolerance bounds how old a delivery may be before it is
	// rejected as a possible replay.
	DefaultTolerance = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("webhooksig: missing signature header")
	ErrMissingTimestamp = errors.New("webhooksig: missing timestamp header")
	ErrBadTimestamp     = errors.New("webhooksig: malformed timestamp")
	ErrTooOld           = errors.New("webhooksig: timestamp outside tolerance")
	ErrSignature        = errors.New("webhooksig: signature mismatch")
)

// Compute returns the expected signature for a body at a given timestamp.
func Compute(secret, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature against the body and timestamp. The timestamp
// must be within tolerance of now (pass 0 to use DefaultTolerance).
func Verify(secret, timestamp, signature string, body []byte, tolerance time.Duration) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if timestamp == "" {
		return ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	age := time.Since(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return ErrTooOld
	}

	expected := Compute(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignature
	}
	return nil
}

// VerifyRequest verifies a delivery from its HTTP headers. The caller is
// responsible for reading the body exactly as it arrived on the wire.
func VerifyRequest(secret string, header http.Header, body []byte, tolerance time.Duration) error {
	return Verify(secret, header.Get(HeaderTimestamp), header.Get(HeaderSignature), body, tolerance)
}
