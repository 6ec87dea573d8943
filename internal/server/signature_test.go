package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"branch": "main"}`)
	secret := "0123456789abcdef0123456789abcdef"

	testCases := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		expected  bool
	}{
		{
			name:      "valid",
			payload:   payload,
			signature: signPayload(payload, secret),
			secret:    secret,
			expected:  true,
		},
		{
			name:      "wrong secret",
			payload:   payload,
			signature: signPayload(payload, "another-secret-another-secret-00"),
			secret:    secret,
			expected:  false,
		},
		{
			name:      "tampered payload",
			payload:   []byte(`{"branch": "main", "deploy_to_prod": true}`),
			signature: signPayload(payload, secret),
			secret:    secret,
			expected:  false,
		},
		{
			name:      "missing prefix",
			payload:   payload,
			signature: hex.EncodeToString([]byte("digest")),
			secret:    secret,
			expected:  false,
		},
		{
			name:      "empty signature",
			payload:   payload,
			signature: "",
			secret:    secret,
			expected:  false,
		},
		{
			name:      "empty secret",
			payload:   payload,
			signature: signPayload(payload, secret),
			secret:    "",
			expected:  false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifySignature(tc.payload, tc.signature, tc.secret); got != tc.expected {
				t.Errorf("VerifySignature() = %v, expected %v", got, tc.expected)
			}
		})
	}
}
