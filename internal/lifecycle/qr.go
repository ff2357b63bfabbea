package lifecycle

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrMalformedPayload is returned when a scanned QR payload deviates from
// the fixed <scheme>://verify?token=...&uuid=... format. Deviations are a
// parse failure reported to the scanning client, never guessed around.
var ErrMalformedPayload = errors.New("malformed qr payload")

// BuildPayload renders the QR payload embedding both session identifiers.
func BuildPayload(scheme, nonce, proximityUUID string) string {
	q := url.Values{}
	q.Set("token", nonce)
	q.Set("uuid", proximityUUID)
	return fmt.Sprintf("%s://verify?%s", scheme, q.Encode())
}

// ParsePayload extracts the nonce and proximity UUID from a scanned QR
// payload. The scheme is not checked: the scanning client already dispatched
// on it, and payloads survive re-encoding by QR intermediaries better when
// only the structure is load-bearing.
func ParsePayload(payload string) (token, proximityUUID string, err error) {
	u, err := url.Parse(payload)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if u.Scheme == "" || u.Host != "verify" {
		return "", "", fmt.Errorf("%w: expected <scheme>://verify", ErrMalformedPayload)
	}
	q := u.Query()
	token = q.Get("token")
	proximityUUID = q.Get("uuid")
	if token == "" || proximityUUID == "" {
		return "", "", fmt.Errorf("%w: missing token or uuid parameter", ErrMalformedPayload)
	}
	return token, proximityUUID, nil
}
