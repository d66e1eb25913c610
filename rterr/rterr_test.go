package rterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := map[string]struct {
		err      error
		expected Kind
	}{
		"precondition": {
			err:      Precondition("finalize", "comp0", "component is active"),
			expected: KindPreconditionNotMet,
		},
		"wrapped-not-found": {
			err:      fmt.Errorf("outer: %w", NotFound("disconnect", "out", "no connector %q", "abc")),
			expected: KindNotFound,
		},
		"joined-connection": {
			err:      errors.Join(errors.New("plain"), Connection("connect", "in", "peer unreachable")),
			expected: KindConnection,
		},
		"sentinel": {
			err:      fmt.Errorf("wait: %w", ErrTimeout),
			expected: KindTimeout,
		},
		"plain": {
			err:      errors.New("plain"),
			expected: KindUnknown,
		},
		"nil": {
			err:      nil,
			expected: KindUnknown,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, KindOf(tc.err))
		})
	}
}

func TestError_IsSentinel(t *testing.T) {
	err := Precondition("remove_component", "comp0", "component is active")
	assert.ErrorIs(t, err, ErrPreconditionNotMet)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "remove_component comp0: component is active", err.Error())
}

func TestParseKind(t *testing.T) {
	for k := KindUnknown; k <= KindTimeout; k++ {
		assert.Equal(t, k, ParseKind(k.String()))
	}
	assert.Equal(t, KindUnknown, ParseKind("nonsense"))
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(KindConnection, "connect", "out", nil))
}
