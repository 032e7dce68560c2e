package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaccess/internal/observability"
)

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	cb := New("test", 3, time.Second, WithLogger(observability.NopLogger()))

	result, err := cb.Execute(func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestTripsAfterFailures(t *testing.T) {
	t.Parallel()

	transitions := make([]int, 0, 4)
	cb := New("test", 3, time.Minute,
		WithStateCallback(func(_ string, state int) {
			transitions = append(transitions, state)
		}),
	)

	boom := errors.New("store unavailable")
	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(func() (interface{}, error) {
			return nil, boom
		})
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())
	require.NotEmpty(t, transitions)
	assert.Equal(t, int(gobreaker.StateOpen), transitions[len(transitions)-1])

	_, err := cb.Execute(func() (interface{}, error) {
		return "should not run", nil
	})
	require.Error(t, err)
	assert.True(t, IsOpen(err))
}

func TestIsOpen(t *testing.T) {
	t.Parallel()

	assert.True(t, IsOpen(gobreaker.ErrOpenState))
	assert.True(t, IsOpen(gobreaker.ErrTooManyRequests))
	assert.False(t, IsOpen(errors.New("other")))
	assert.False(t, IsOpen(nil))
}

func TestSafeIntToUint32(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(0), safeIntToUint32(-1))
	assert.Equal(t, uint32(5), safeIntToUint32(5))
	assert.Equal(t, ^uint32(0), safeIntToUint32(1<<40))
}
