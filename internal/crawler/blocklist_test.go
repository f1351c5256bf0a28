package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlocklist(t *testing.T) {
	t.Parallel()

	b := NewBlocklist([]string{"Example.com", "*.tracker.net", " spaced.io ", ""})

	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"EXAMPLE.COM", true},
		{"shop.example.com", true},
		{"deep.shop.example.com", true},
		{"example.com:8080", true},
		{"tracker.net", true},
		{"cdn.tracker.net", true},
		{"spaced.io", true},
		{"example.org", false},
		{"notexample.com", false},
		{"com", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Blocked(tt.domain), tt.domain)
	}
	assert.Equal(t, 3, b.Len())
}

func TestBlocklistEmpty(t *testing.T) {
	t.Parallel()

	var nilList *Blocklist
	assert.False(t, nilList.Blocked("example.com"))
	assert.Zero(t, nilList.Len())

	empty := NewBlocklist(nil)
	assert.False(t, empty.Blocked("example.com"))
}
