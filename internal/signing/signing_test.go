package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	sig := s.Sign("req-1", "42", "7", "1700000000")
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, s.Sign("req-1", "42", "7", "1700000000"))

	assert.True(t, s.Validate(sig, "req-1", "42", "7", "1700000000"))
	assert.False(t, s.Validate(sig, "req-2", "42", "7", "1700000000"), "request id")
	assert.False(t, s.Validate(sig, "req-1", "43", "7", "1700000000"), "item id")
	assert.False(t, s.Validate(sig, "req-1", "42", "8", "1700000000"), "page id")
	assert.False(t, s.Validate(sig, "req-1", "42", "7", "1700000001"), "timestamp")
	assert.False(t, s.Validate("", "req-1", "42", "7", "1700000000"), "empty signature")

	other := NewSigner([]byte("othersecret"))
	assert.False(t, other.Validate(sig, "req-1", "42", "7", "1700000000"), "secret")
}
