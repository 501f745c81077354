package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
)

func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureSkippedWhenNoSecret(t *testing.T) {
	if err := VerifySignature("garbage", []byte("whatever"), ""); err != nil {
		t.Fatalf("expected nil error when secret is unconfigured, got %v", err)
	}
}

func TestVerifySignatureAccepted(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"conversation_completed"}`)
	timestamp := "1700000000"
	hash := sign(secret, timestamp, body)
	header := fmt.Sprintf("t=%s,v0=%s", timestamp, hash)

	if err := VerifySignature(header, body, secret); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	secret := "whsec_test"
	timestamp := "1700000000"
	hash := sign(secret, timestamp, []byte("original"))
	header := fmt.Sprintf("t=%s,v0=%s", timestamp, hash)

	if err := VerifySignature(header, []byte("tampered"), secret); err == nil {
		t.Fatal("expected signature mismatch for tampered body")
	}
}

func TestVerifySignatureRejectsMalformedHeader(t *testing.T) {
	cases := []string{"", "not-a-valid-header", "t=123", "v0=abc"}
	for _, header := range cases {
		if err := VerifySignature(header, []byte("body"), "secret"); err == nil {
			t.Errorf("expected error for malformed header %q", header)
		}
	}
}

func TestVerifySignatureRejectsNonNumericTimestamp(t *testing.T) {
	header := "t=not-a-number,v0=abc123"
	if err := VerifySignature(header, []byte("body"), "secret"); err == nil {
		t.Fatal("expected error for non-numeric timestamp")
	}
}
