package ground

import (
	"testing"

	"warden/core"

	"github.com/stretchr/testify/assert"
)

func TestNewAllowlist(t *testing.T) {
	events := []core.Event{
		{User: "Alice@X.com", IP: "10.0.0.1"},
		{User: "bob@x.com"},
		{IP: "2001:db8::1"},
		{},
	}
	a := NewAllowlist(events)

	assert.True(t, a.HasUser("alice@x.com"))
	assert.True(t, a.HasUser("ALICE@x.com"))
	assert.True(t, a.HasUser("bob@x.com"))
	assert.False(t, a.HasUser("mallory@evil.com"))
	assert.True(t, a.HasIP("10.0.0.1"))
	assert.True(t, a.HasIP("2001:db8::1"))
	assert.False(t, a.HasIP("10.0.0.2"))

	assert.Equal(t, []string{"alice@x.com", "bob@x.com"}, a.Users())
	assert.Equal(t, []string{"10.0.0.1", "2001:db8::1"}, a.IPs())
	assert.False(t, a.IsEmpty())
}

func TestAllowlist_Empty(t *testing.T) {
	assert.True(t, NewAllowlist(nil).IsEmpty())

	var nilList *Allowlist
	assert.True(t, nilList.IsEmpty())
	assert.False(t, nilList.HasUser("alice@x.com"))
}

func TestEntities(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Entity
	}{
		{"plain", "nothing here", nil},
		{"email", "- alice@x.com had 8 failures.", []Entity{{EntityEmail, "alice@x.com"}}},
		{"ipv4 with punctuation", "seen from (203.0.113.9).", []Entity{{EntityIP, "203.0.113.9"}}},
		{"ipv4 with port", "conn 10.0.0.1:443 dropped", []Entity{{EntityIP, "10.0.0.1"}}},
		{"ipv6", "from 2001:db8::42, twice", []Entity{{EntityIP, "2001:db8::42"}}},
		{"key value", "ip=10.1.1.1 user=bob@x.com", []Entity{{EntityEmail, "bob@x.com"}, {EntityIP, "10.1.1.1"}}},
		{"timestamps are not addresses", "at 2025-03-14T09:00:00Z and 09:15:00", nil},
		{"out of range quad", "from 10.0.0.256.", []Entity{{EntityIP, "10.0.0.256"}}},
		{"versions are not addresses", "agent 1.2.3 on host", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Entities(tt.line))
		})
	}
}
