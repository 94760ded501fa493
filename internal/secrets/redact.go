package secrets

import (
	"net/url"
	"regexp"
	"strings"
)

// Mask replaces redacted text.
const Mask = "[REDACTED]"

var (
	userinfoPattern = regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://)[^/@\s]+@`)
	bearerPattern   = regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9._~+/=-]+`)
	queryPattern    = regexp.MustCompile(`(?i)([?&](?:token|key|api_key|apikey|access_token|authToken)=)[^&\s"]+`)
	apiKeyPattern   = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`)
)

// Redact removes credentials from s before it is logged: URL userinfo,
// bearer tokens, key-like query parameters, OpenAI-style keys and every
// non-empty value in known.
func Redact(s string, known ...string) string {
	for _, v := range known {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, Mask)
		if esc := url.QueryEscape(v); esc != v {
			s = strings.ReplaceAll(s, esc, Mask)
		}
	}
	s = userinfoPattern.ReplaceAllString(s, "${1}"+Mask+"@")
	s = bearerPattern.ReplaceAllString(s, "${1}"+Mask)
	s = queryPattern.ReplaceAllString(s, "${1}"+Mask)
	s = apiKeyPattern.ReplaceAllString(s, Mask)
	return s
}

// RedactURL hides the password of a URL with userinfo, for log fields that
// carry a base URL. A username-only userinfo is treated as a token.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return Redact(raw)
	}
	if _, ok := u.User.Password(); ok {
		return u.Redacted()
	}
	return Redact(raw)
}
