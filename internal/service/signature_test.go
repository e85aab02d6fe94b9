package service

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// sign returns the hex HMAC-SHA512 of body, as the provider computes it.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSignatureVerifier(t *testing.T) {
	body := []byte(`{"TxHash":"tx-001"}`)
	good := sign(testSecret, body)

	tests := []struct {
		name      string
		secret    string
		require   bool
		signature string
		want      SignatureResult
	}{
		{"valid", testSecret, false, good, SignatureValid},
		{"valid uppercase hex", testSecret, false, strings.ToUpper(good), SignatureValid},
		{"wrong secret", testSecret, false, sign("other", body), SignatureInvalid},
		{"not hex", testSecret, false, "zz-not-hex", SignatureInvalid},
		{"truncated", testSecret, false, good[:32], SignatureInvalid},
		{"missing, optional", testSecret, false, "", SignatureSkipped},
		{"missing, required", testSecret, true, "", SignatureInvalid},
		{"no secret configured", "", true, "anything", SignatureSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewSignatureVerifier(tt.secret, tt.require)
			assert.Equal(t, tt.want, v.Verify(body, tt.signature))
		})
	}
}

func TestSignatureCoversWholeBody(t *testing.T) {
	v := NewSignatureVerifier(testSecret, false)
	sig := sign(testSecret, []byte(`{"TxHash":"tx-001","Price":1}`))

	assert.Equal(t, SignatureInvalid, v.Verify([]byte(`{"TxHash":"tx-001","Price":2}`), sig))
}

func TestSignatureResultString(t *testing.T) {
	assert.Equal(t, "valid", SignatureValid.String())
	assert.Equal(t, "invalid", SignatureInvalid.String())
	assert.Equal(t, "skipped", SignatureSkipped.String())
}
