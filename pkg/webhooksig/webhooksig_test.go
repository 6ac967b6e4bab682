package webhooksig

import (
	"net/http"
	"strconv"
	"testing"
	"time"
)

const testSecret = "whsec_test"

func freshTimestamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

func TestVerify_Valid(t *testing.T) {
	body := []byte(`{"type":"reservation.confirmed"}`)
	ts := freshTimestamp()
	sig := Compute(testSecret, ts, body)

	if err := Verify(testSecret, ts, sig, body, 0); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	body := []byte(`{}`)
	ts := freshTimestamp()
	sig := Compute("other_secret", ts, body)

	if err := Verify(testSecret, ts, sig, body, 0); err != ErrSignature {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
}

func TestVerify_TamperedBody(t *testing.T) {
	ts := freshTimestamp()
	sig := Compute(testSecret, ts, []byte(`{"amount":100}`))

	if err := Verify(testSecret, ts, sig, []byte(`{"amount":999}`), 0); err != ErrSignature {
		t.Fatalf("expected ErrSignature for tampered body, got %v", err)
	}
}

func TestVerify_ReplayedTimestamp(t *testing.T) {
	body := []byte(`{}`)
	old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	sig := Compute(testSecret, old, body)

	if err := Verify(testSecret, old, sig, body, 0); err != ErrTooOld {
		t.Fatalf("expected ErrTooOld, got %v", err)
	}
}

func TestVerify_CustomTolerance(t *testing.T) {
	body := []byte(`{}`)
	old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	sig := Compute(testSecret, old, body)

	if err := Verify(testSecret, old, sig, body, 2*time.Hour); err != nil {
		t.Fatalf("expected valid within widened tolerance, got %v", err)
	}
}

func TestVerify_MissingHeaders(t *testing.T) {
	if err := Verify(testSecret, freshTimestamp(), "", nil, 0); err != ErrMissingSignature {
		t.Errorf("expected ErrMissingSignature, got %v", err)
	}
	if err := Verify(testSecret, "", "abc", nil, 0); err != ErrMissingTimestamp {
		t.Errorf("expected ErrMissingTimestamp, got %v", err)
	}
	if err := Verify(testSecret, "not-a-number", "abc", nil, 0); err != ErrBadTimestamp {
		t.Errorf("expected ErrBadTimestamp, got %v", err)
	}
}

func TestVerifyRequest(t *testing.T) {
	body := []byte(`{"type":"payment.recorded"}`)
	ts := freshTimestamp()

	h := http.Header{}
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderSignature, Compute(testSecret, ts, body))

	if err := VerifyRequest(testSecret, h, body, 0); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	h.Set(HeaderSignature, "deadbeef")
	if err := VerifyRequest(testSecret, h, body, 0); err != ErrSignature {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
}
