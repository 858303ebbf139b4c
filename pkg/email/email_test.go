package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValid(t *testing.T) {
	valid := []string{"alice@example.com", "a.b+tag@sub.example.co", "x_y%z@d-1.io"}
	for _, addr := range valid {
		assert.True(t, IsValid(addr), addr)
	}
	invalid := []string{"", "alice", "alice@", "@example.com", "alice@example", "alice@example.c", "a lice@example.com"}
	for _, addr := range invalid {
		assert.False(t, IsValid(addr), addr)
	}
}

func TestUsernameBase(t *testing.T) {
	tests := []struct {
		addr   string
		maxLen int
		want   string
	}{
		{"bob@example.com", 50, "bob"},
		{"first.last@example.com", 50, "first.last"},
		{"tag+news@example.com", 50, "tagnews"},
		{"+++@example.com", 50, "user"},
		{"averyveryverylongname@example.com", 8, "averyver"},
		{"nodomain", 50, "nodomain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UsernameBase(tt.addr, tt.maxLen), tt.addr)
	}
}

func TestLocalPart(t *testing.T) {
	assert.Equal(t, "alice", LocalPart("alice@example.com"))
	assert.Equal(t, "alice", LocalPart("alice"))
	assert.Equal(t, "alice@example.com", Normalize("  alice@example.com "))
}
