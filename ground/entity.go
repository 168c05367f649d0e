package ground

import (
	"net"
	"regexp"
	"strings"
)

// EntityKind distinguishes the entity types the grounding layer checks
type EntityKind string

const (
	EntityEmail EntityKind = "email"
	EntityIP    EntityKind = "ip"
)

// Entity is an email or IP token found in text
type Entity struct {
	Kind  EntityKind
	Value string
}

// dottedQuad matches anything shaped like an IPv4 address, valid or not, with an optional port
var dottedQuad = regexp.MustCompile(`^(\d+(?:\.\d+){3})(?::\d+)?$`)

// EmailPattern matches email-like tokens
var EmailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// FirstEmail returns the first email-like token in s, or ""
func FirstEmail(s string) string {
	return EmailPattern.FindString(s)
}

// Entities extracts every email and IP address named in a line, in order of appearance
func Entities(line string) []Entity {
	var out []Entity
	for _, m := range EmailPattern.FindAllString(line, -1) {
		out = append(out, Entity{Kind: EntityEmail, Value: m})
	}

	// Emails are blanked first so their domains never read as addresses
	rest := EmailPattern.ReplaceAllString(line, " ")
	for _, tok := range strings.FieldsFunc(rest, isSeparator) {
		if ip, ok := parseIPToken(tok); ok {
			out = append(out, Entity{Kind: EntityIP, Value: ip})
		}
	}
	return out
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\r', '\n', ',', ';', '(', ')', '[', ']', '{', '}', '<', '>',
		'"', '\'', '`', '=', '|', '/', '\\':
		return true
	}
	return false
}

// parseIPToken accepts dotted quads and colon-separated IPv6 forms, ignoring
// trailing sentence punctuation and an optional :port on IPv4.
// Dotted quads count even when they are not valid addresses (10.0.0.256, 010.0.0.5).
func parseIPToken(tok string) (string, bool) {
	if !strings.ContainsAny(tok, "0123456789abcdefABCDEF") {
		return "", false
	}
	if m := dottedQuad.FindStringSubmatch(strings.TrimRight(tok, ".:")); m != nil {
		return m[1], true
	}

	candidates := []string{tok, strings.Trim(tok, ".:")}
	if host, _, err := net.SplitHostPort(strings.TrimRight(tok, ".")); err == nil {
		candidates = append(candidates, host)
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		ip := net.ParseIP(c)
		if ip == nil {
			continue
		}
		if ip.To4() != nil && strings.Count(c, ".") == 3 {
			return c, true
		}
		if strings.Count(c, ":") >= 2 {
			return c, true
		}
	}
	return "", false
}
