package lifecycle

import (
	"errors"
	"testing"
)

func TestPayloadRoundTrip(t *testing.T) {
	payload := BuildPayload("myapp", "0b1872e1-50b1-4dc6-a9a5-12242297f241", "a4a48d4a-c318-47c0-9bbe-b1d0f19b651f")
	token, uuid, err := ParsePayload(payload)
	if err != nil {
		t.Fatalf("ParsePayload(%q) failed: %v", payload, err)
	}
	if token != "0b1872e1-50b1-4dc6-a9a5-12242297f241" {
		t.Fatalf("token = %q", token)
	}
	if uuid != "a4a48d4a-c318-47c0-9bbe-b1d0f19b651f" {
		t.Fatalf("uuid = %q", uuid)
	}
}

func TestParsePayloadAcceptsForeignScheme(t *testing.T) {
	// The payload format is fixed; the scheme is whatever the deployment
	// registered with the mobile platform.
	if _, _, err := ParsePayload("govverify://verify?token=abc&uuid=def"); err != nil {
		t.Fatalf("foreign scheme rejected: %v", err)
	}
}

func TestParsePayloadRejectsDeviations(t *testing.T) {
	cases := []string{
		"",
		"just-a-bare-uuid",
		"myapp://verify",                           // no query
		"myapp://verify?token=abc",                 // missing uuid
		"myapp://verify?uuid=def",                  // missing token
		"myapp://other?token=abc&uuid=def",         // wrong host
		"https://example.com/?token=abc&uuid=def",  // wrong host again
		"://verify?token=abc&uuid=def",             // no scheme
	}
	for _, payload := range cases {
		if _, _, err := ParsePayload(payload); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("ParsePayload(%q) err = %v, want ErrMalformedPayload", payload, err)
		}
	}
}
