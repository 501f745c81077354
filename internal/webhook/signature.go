// Package webhook handles the two inbound HTTP webhook surfaces of
// spec §6: the telephony provider's call-status callback and the AI
// provider's post-call webhook.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// VerifySignature checks an HMAC-SHA256 signature of the form
// "t=<timestamp>,v0=<hash>" against secret. Verification is skipped
// (always valid) only when secret is empty, per spec §6's "skip
// verification only when explicitly unconfigured" rule.
func VerifySignature(header string, body []byte, secret string) error {
	if secret == "" {
		return nil
	}

	var timestamp, hash string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v0":
			hash = kv[1]
		}
	}
	if timestamp == "" || hash == "" {
		return fmt.Errorf("webhook: malformed signature header")
	}

	if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
		return fmt.Errorf("webhook: malformed timestamp: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(hash)) {
		return fmt.Errorf("webhook: signature mismatch")
	}
	return nil
}
