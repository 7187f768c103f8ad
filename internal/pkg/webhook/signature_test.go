package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"status":"1","data":{"transactionId":"tx-1"}}`)
	secret := "super-secret"

	tests := []struct {
		name      string
		signature string
		secret    string
		want      bool
	}{
		{name: "valid", signature: sign(payload, secret), secret: secret, want: true},
		{name: "uppercase hex accepted", signature: strings.ToUpper(sign(payload, secret)), secret: secret, want: true},
		{name: "tampered signature", signature: "00" + sign(payload, secret)[2:], secret: secret, want: false},
		{name: "wrong secret", signature: sign(payload, "other"), secret: secret, want: false},
		{name: "missing signature", signature: "", secret: secret, want: false},
		{name: "missing secret", signature: sign(payload, secret), secret: "", want: false},
		{name: "not hex", signature: "zz-not-hex", secret: secret, want: false},
	}

	for _, tt := range tests {
		if got := VerifySignature(payload, tt.signature, tt.secret); got != tt.want {
			t.Fatalf("%s: VerifySignature = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestVerifySignatureTamperedPayload(t *testing.T) {
	payload := []byte(`{"sum":"49.00"}`)
	tampered := []byte(`{"sum":"1.00"}`)
	secret := "super-secret"

	if VerifySignature(tampered, sign(payload, secret), secret) {
		t.Fatal("expected tampered payload to fail verification")
	}
}
