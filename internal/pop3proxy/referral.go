package pop3proxy

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/infodancer/loginproxy/internal/proxy"
)

// handleLoginFailure implements the non-+OK fall-through shared by Login1
// and Login2: classify the server's reply into AuthReplied, AuthTempfail,
// or a redirect, writing whatever reply (if any) belongs on the wire at
// this point.
func (d *Driver) handleLoginFailure(h proxy.Host, line string) (bool, error) {
	if !strings.HasPrefix(line, "-ERR ") {
		if err := h.WriteClient("-ERR " + authFailedMsg); err != nil {
			return false, internalErr(err)
		}
		return false, &proxy.Failure{Kind: proxy.AuthReplied, Reason: authFailedMsg}
	}

	body := strings.TrimSpace(strings.TrimPrefix(line, "-ERR "))

	if strings.HasPrefix(body, "[SYS/TEMP]") {
		reason := strings.TrimSpace(strings.TrimPrefix(body, "[SYS/TEMP]"))
		return false, &proxy.Failure{Kind: proxy.AuthTempfail, Reason: reason}
	}

	if strings.HasPrefix(body, "[REFERRAL/") {
		if _, host, port, err := parseReferral(body); err == nil {
			if port == 0 {
				port = h.Settings().Port
			}
			ip, rerr := resolveReferralHost(host)
			if rerr != nil {
				return false, &proxy.Failure{Kind: proxy.Remote, Reason: fmt.Sprintf("referral to %s: %v", host, rerr)}
			}
			return false, h.Redirect(ip, port)
		}
	}

	// Anything else: pass the original line through verbatim.
	if err := h.WriteClient(line); err != nil {
		return false, internalErr(err)
	}
	return false, &proxy.Failure{Kind: proxy.AuthReplied, Reason: body}
}

// parseReferral parses the authority grammar of a "[REFERRAL/<authority>]"
// body: optional percent-decoded userinfo, then an IP4 literal, a
// bracketed IP6 literal, or a DNS name, then an optional ":port". The
// character immediately following the authority must be "]"; an unclosed
// bracket is rejected.
func parseReferral(body string) (userinfo, host string, port int, err error) {
	const prefix = "[REFERRAL/"
	if !strings.HasPrefix(body, prefix) {
		return "", "", 0, fmt.Errorf("not a referral")
	}
	rest := body[len(prefix):]

	depth := 0
	closeIdx := -1
	for i, c := range rest {
		switch c {
		case '[':
			depth++
		case ']':
			if depth == 0 {
				closeIdx = i
			}
			depth--
		}
		if closeIdx >= 0 {
			break
		}
	}
	if closeIdx < 0 {
		return "", "", 0, fmt.Errorf("unclosed referral")
	}
	authority := rest[:closeIdx]

	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		userinfo = authority[:at]
		authority = authority[at+1:]
		if decoded, derr := url.QueryUnescape(userinfo); derr == nil {
			userinfo = decoded
		}
	}

	host, port, err = splitAuthorityHostPort(authority)
	return userinfo, host, port, err
}

func splitAuthorityHostPort(s string) (host string, port int, err error) {
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated ipv6 literal")
		}
		host = s[1:end]
		remainder := s[end+1:]
		if remainder == "" {
			return host, 0, nil
		}
		if !strings.HasPrefix(remainder, ":") {
			return "", 0, fmt.Errorf("unexpected characters after ipv6 literal")
		}
		p, perr := strconv.Atoi(remainder[1:])
		if perr != nil {
			return "", 0, fmt.Errorf("bad port: %w", perr)
		}
		return host, p, nil
	}

	if idx := strings.LastIndexByte(s, ':'); idx >= 0 {
		if p, perr := strconv.Atoi(s[idx+1:]); perr == nil {
			return s[:idx], p, nil
		}
	}
	return s, 0, nil
}

func resolveReferralHost(host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	return addrs[0], nil
}
