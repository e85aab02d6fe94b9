package service

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignatureResult is the outcome of verifying a notification signature.
type SignatureResult int

const (
	// SignatureSkipped means no check was possible: no secret is configured,
	// or the request carried no signature and signatures are optional.
	SignatureSkipped SignatureResult = iota
	SignatureValid
	SignatureInvalid
)

func (r SignatureResult) String() string {
	switch r {
	case SignatureValid:
		return "valid"
	case SignatureInvalid:
		return "invalid"
	default:
		return "skipped"
	}
}

// SignatureVerifier checks the provider's HMAC-SHA512 payload hash.
type SignatureVerifier struct {
	secret           []byte
	requireSignature bool
}

// NewSignatureVerifier creates a verifier. An empty secret disables verification.
func NewSignatureVerifier(secret string, requireSignature bool) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret), requireSignature: requireSignature}
}

// Enabled reports whether a secret is configured.
func (v *SignatureVerifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify compares the hex signature against HMAC-SHA512(secret, body) in constant time.
func (v *SignatureVerifier) Verify(body []byte, signature string) SignatureResult {
	if !v.Enabled() {
		return SignatureSkipped
	}

	signature = strings.TrimSpace(signature)
	if signature == "" {
		if v.requireSignature {
			return SignatureInvalid
		}
		return SignatureSkipped
	}

	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return SignatureInvalid
	}

	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return SignatureInvalid
	}
	return SignatureValid
}
