package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodes(t *testing.T) {
	t.Run("new carries its code", func(t *testing.T) {
		err := New(CodeNotOwner, "caller is not the owner")
		assert.True(t, HasCode(err, CodeNotOwner))
		assert.False(t, HasCode(err, CodeUnauthorized))
		assert.Equal(t, "caller is not the owner", err.Error())
	})

	t.Run("wrap preserves the cause", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := Wrap(cause, CodeInternal, "failed to load will")
		assert.True(t, Is(err, CodeInternal))
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "failed to load will: connection reset", err.Error())
	})

	t.Run("code survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeWillInactive, "will is inactive"))
		code, ok := CodeOf(err)
		require.True(t, ok)
		assert.Equal(t, CodeWillInactive, code)
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		_, ok := CodeOf(errors.New("plain"))
		assert.False(t, ok)
		assert.False(t, HasCode(nil, CodeInternal))
	})
}
