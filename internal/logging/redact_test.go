package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMaskCredential(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcdefg", "ab*****"},
		{"mx0vglABCDEFGH1234", "mx0v**********1234"},
	}
	for _, tt := range tests {
		if got := MaskCredential(tt.in); got != tt.want {
			t.Errorf("MaskCredential(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedact(t *testing.T) {
	in := `Get "https://api.mexc.com/api/v3/account?recvWindow=5000&timestamp=1700000000000&signature=0123456789abcdef0123": EOF`
	got := Redact(in)
	if strings.Contains(got, "0123456789abcdef0123") {
		t.Errorf("signature leaked: %s", got)
	}
	if !strings.Contains(got, "signature=0123************0123") || !strings.Contains(got, "timestamp=1700000000000") {
		t.Errorf("unexpected redaction: %s", got)
	}

	if got := Redact("X-MEXC-APIKEY: mx0vglABCDEFGH1234"); got != "X-MEXC-APIKEY: mx0v**********1234" {
		t.Errorf("header redaction = %q", got)
	}
}

func TestRedactError_Unwraps(t *testing.T) {
	base := errors.New("operation timed out")
	err := RedactError(errors.Join(base, errors.New("api_key=supersecretvalue")))
	if !errors.Is(err, base) {
		t.Error("redacted error should still match the wrapped sentinel")
	}
	if strings.Contains(err.Error(), "supersecretvalue") {
		t.Errorf("secret leaked: %v", err)
	}
	if plain := errors.New("no secrets"); RedactError(plain) != plain {
		t.Error("errors without credentials should be returned unchanged")
	}
}

func TestLogAPICall_Redacts(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	LogAPICall(logger, "GET", "/api/v3/account", time.Millisecond, errors.New("dial: signature=deadbeefdeadbeef"))
	if strings.Contains(buf.String(), "deadbeefdeadbeef") {
		t.Errorf("log line leaked signature: %s", buf.String())
	}
}
