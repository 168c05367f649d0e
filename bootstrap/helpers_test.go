package bootstrap

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"nil", nil, ""},
		{"refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), "Connection refused"},
		{"dns", errors.New("dial tcp: lookup redis.invalid: no such host"), "Cannot resolve"},
		{"auth", errors.New("WRONGPASS invalid username-password pair"), "Authentication failed"},
		{"other", errors.New("boom"), "Failed to connect to Redis at localhost:6379: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ClassifyConnectionError(tt.err, "localhost:6379")
			if tt.contains == "" {
				assert.Empty(t, msg)
				return
			}
			assert.Contains(t, msg, tt.contains)
		})
	}
}

func TestClassifySQLiteError(t *testing.T) {
	tests := []struct {
		err      string
		contains string
	}{
		{"open data/warden.db: permission denied", "Permission denied"},
		{"database is locked (5) (SQLITE_BUSY)", "locked by another process"},
		{"attempt to write a readonly database: read-only file system", "read-only"},
		{"database disk image is malformed", "corrupted"},
		{"something else", "Failed to open run store"},
	}
	for _, tt := range tests {
		assert.Contains(t, ClassifySQLiteError(errors.New(tt.err), "data/warden.db"), tt.contains, tt.err)
	}
	assert.Empty(t, ClassifySQLiteError(nil, "x"))
}

func TestContainsIgnoreCase(t *testing.T) {
	assert.True(t, containsIgnoreCase("Connection REFUSED", "refused"))
	assert.True(t, containsIgnoreCase("abc", ""))
	assert.False(t, containsIgnoreCase("abc", "abcd"))
}
