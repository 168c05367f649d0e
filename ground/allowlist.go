package ground

import (
	"sort"
	"strings"

	"warden/core"
)

// Allowlist holds the users and IP addresses observed in a run's events.
// It is read-only once built.
type Allowlist struct {
	users map[string]struct{}
	ips   map[string]struct{}
}

// NewAllowlist collects every non-empty user and ip from events
func NewAllowlist(events []core.Event) *Allowlist {
	a := &Allowlist{
		users: make(map[string]struct{}),
		ips:   make(map[string]struct{}),
	}
	for i := range events {
		if u := strings.TrimSpace(events[i].User); u != "" {
			a.users[strings.ToLower(u)] = struct{}{}
		}
		if ip := strings.TrimSpace(events[i].IP); ip != "" {
			a.ips[ip] = struct{}{}
		}
	}
	return a
}

// HasUser reports whether the user was observed. Emails compare case-insensitively.
func (a *Allowlist) HasUser(user string) bool {
	if a == nil {
		return false
	}
	_, ok := a.users[strings.ToLower(user)]
	return ok
}

// HasIP reports whether the address was observed
func (a *Allowlist) HasIP(ip string) bool {
	if a == nil {
		return false
	}
	_, ok := a.ips[ip]
	return ok
}

// Allows reports whether an extracted entity is known
func (a *Allowlist) Allows(e Entity) bool {
	switch e.Kind {
	case EntityEmail:
		return a.HasUser(e.Value)
	case EntityIP:
		return a.HasIP(e.Value)
	default:
		return false
	}
}

// Users returns the observed users sorted
func (a *Allowlist) Users() []string {
	return sortedKeys(a.users)
}

// IPs returns the observed addresses sorted
func (a *Allowlist) IPs() []string {
	return sortedKeys(a.ips)
}

// IsEmpty reports whether nothing was observed
func (a *Allowlist) IsEmpty() bool {
	return a == nil || (len(a.users) == 0 && len(a.ips) == 0)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
