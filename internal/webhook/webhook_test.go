package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
)

func TestParseSignatureHeader(t *testing.T) {
	mac, tMillis, err := parseSignatureHeader("sha256=abcd, t=1234567890")
	if err != nil {
		t.Fatalf("parseSignatureHeader() error = %v", err)
	}
	if tMillis != 1234567890 {
		t.Fatalf("tMillis = %d, want 1234567890", tMillis)
	}
	want, _ := hex.DecodeString("abcd")
	if hex.EncodeToString(mac) != hex.EncodeToString(want) {
		t.Fatalf("mac = %x, want %x", mac, want)
	}
}

func TestParseSignatureHeaderRejectsMalformed(t *testing.T) {
	if _, _, err := parseSignatureHeader("not-a-valid-header"); err == nil {
		t.Fatal("expected error for malformed header")
	}
}

func TestValidSignatureRoundTrip(t *testing.T) {
	secret := "s3cr3t"
	body := []byte(`{"post":{"current":{"uuid":"u"}}}`)
	tMillis := int64(1700000000000)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(fmt.Sprintf("%d", tMillis)))
	sum := mac.Sum(nil)

	if !validSignature(secret, body, tMillis, sum) {
		t.Fatal("expected matching signature to validate")
	}
	if validSignature("wrong-secret", body, tMillis, sum) {
		t.Fatal("expected mismatched secret to fail validation")
	}
}
