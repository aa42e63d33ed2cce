package domain

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessingErrorKinds(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		kind  error
	}{
		{"unsupported", UnsupportedFormat("detect", "a.doc", nil), IsUnsupportedFormat, ErrUnsupportedFormat},
		{"malformed", MalformedInput("records", "a.json", errors.New("not an array")), IsMalformedInput, ErrMalformedInput},
		{"io", IOFailure("write", "out.csv", io.ErrShortWrite), IsIOFailure, ErrIOFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.ErrorIs(t, tt.err, tt.kind)

			wrapped := fmt.Errorf("process: %w", tt.err)
			assert.True(t, tt.check(wrapped), "kind must survive wrapping")
		})
	}
}

func TestProcessingErrorUnwrapsCause(t *testing.T) {
	err := IOFailure("write", "out.csv", io.ErrShortWrite)
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.False(t, IsMalformedInput(err))
	assert.Equal(t, "write: io failure (out.csv): short write", err.Error())
}
