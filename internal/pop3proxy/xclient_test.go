package pop3proxy

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestEncodeForwardSortsAndFilters(t *testing.T) {
	got := encodeForward(map[string]string{
		"forward_b": "2",
		"forward_a": "1",
		"other":     "ignored",
	})
	decoded, err := base64.StdEncoding.DecodeString(got)
	if err != nil {
		t.Fatalf("not valid base64: %v", err)
	}
	want := "forward_a=1\tforward_b=2"
	if string(decoded) != want {
		t.Errorf("decoded = %q, want %q", decoded, want)
	}
}

func TestEncodeForwardEmpty(t *testing.T) {
	if got := encodeForward(nil); got != "" {
		t.Errorf("encodeForward(nil) = %q, want empty", got)
	}
	if got := encodeForward(map[string]string{"other": "x"}); got != "" {
		t.Errorf("non-forward_ keys should be excluded, got %q", got)
	}
}

func TestIsValidDNSName(t *testing.T) {
	if !isValidDNSName("mail.example.com") {
		t.Error("expected valid")
	}
	if isValidDNSName("-bad.example.com") {
		t.Error("expected invalid (leading hyphen)")
	}
	if isValidDNSName("") {
		t.Error("empty should be invalid")
	}
}

func TestBuildXClientLineFields(t *testing.T) {
	line := mustXClientLine(t)
	for _, want := range []string{"ADDR=192.0.2.1", "PORT=5000", "SESSION=sess-1", "TTL=4", "CLIENT-TRANSPORT=insecure"} {
		if !strings.Contains(line, want) {
			t.Errorf("XCLIENT line %q missing %q", line, want)
		}
	}
}
