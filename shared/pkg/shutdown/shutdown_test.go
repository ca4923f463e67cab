package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsHooksInReverseOrder(t *testing.T) {
	m := New(time.Second)
	var order []string

	m.Register("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	m.Register("second", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})

	assert.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestShutdownJoinsErrorsAndKeepsGoing(t *testing.T) {
	m := New(time.Second)
	boom := errors.New("boom")
	ran := false

	m.Register("last", func(ctx context.Context) error {
		ran = true
		return nil
	})
	m.Register("broken", func(ctx context.Context) error { return boom })

	err := m.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
	assert.True(t, ran)
}

func TestShutdownRunsOnce(t *testing.T) {
	m := New(time.Second)
	calls := 0
	m.Register("count", func(ctx context.Context) error {
		calls++
		return nil
	})

	_ = m.Shutdown()
	_ = m.Shutdown()

	assert.Equal(t, 1, calls)
}

func TestShutdownHooksSeeDeadline(t *testing.T) {
	m := New(50 * time.Millisecond)
	m.Register("deadline", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected hook context to carry a deadline")
		}
		return nil
	})
	_ = m.Shutdown()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseResource(t *testing.T) {
	closed := false
	fn := CloseResource(closerFunc(func() error {
		closed = true
		return nil
	}))

	assert.NoError(t, fn(context.Background()))
	assert.True(t, closed)
}
