package pop3proxy

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/infodancer/loginproxy/internal/proxy"
)

// buildXClientLine formats the XCLIENT command per the spec's key set:
// ADDR PORT SESSION TTL CLIENT-TRANSPORT, plus optional DESTNAME and
// FORWARD.
func buildXClientLine(h proxy.Host, settings proxy.Settings, info proxy.ClientInfo) (string, error) {
	transport := "insecure"
	if settings.SSLFlags.Has(proxy.SSLYes) {
		transport = "TLS"
	}

	var b strings.Builder
	b.WriteString("XCLIENT ADDR=")
	b.WriteString(info.RemoteAddr)
	fmt.Fprintf(&b, " PORT=%d", info.RemotePort)
	b.WriteString(" SESSION=")
	b.WriteString(info.SessionID)
	fmt.Fprintf(&b, " TTL=%d", settings.ProxyTTL-1)
	b.WriteString(" CLIENT-TRANSPORT=")
	b.WriteString(transport)

	if settings.LocalName != "" && isValidDNSName(settings.LocalName) {
		b.WriteString(" DESTNAME=")
		b.WriteString(settings.LocalName)
	}

	if fwd := encodeForward(info.ForwardFields); fwd != "" {
		b.WriteString(" FORWARD=")
		b.WriteString(fwd)
	}

	return b.String(), nil
}

// encodeForward base64-encodes the TAB-joined name=value pairs of every
// ForwardFields entry whose key begins "forward_" (case-insensitive),
// sorted by key so the wire form is deterministic.
func encodeForward(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if len(k) >= len("forward_") && strings.EqualFold(k[:len("forward_")], "forward_") {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	joined := strings.Join(parts, "\t")
	return base64.StdEncoding.EncodeToString([]byte(joined))
}

// isValidDNSName mirrors the engine's own hostname check; duplicated here
// rather than exported from internal/proxy since it is a pure string
// predicate with no engine state.
func isValidDNSName(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}
