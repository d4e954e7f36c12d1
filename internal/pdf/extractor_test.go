package pdfutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainText(t *testing.T) {
	text, err := Extract("text/plain; charset=utf-8", []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestExtractRejects(t *testing.T) {
	_, err := Extract("image/png", []byte{0x89, 'P', 'N', 'G'})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Extract("text/plain", []byte{0xff, 0xfe, 0xfd})
	assert.Error(t, err)

	_, err = Extract("application/pdf", []byte("not a pdf"))
	assert.Error(t, err)
}
