package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAndProbes(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	b := New("oracle", 2, time.Minute)
	b.nowFn = func() time.Time { return now }
	boom := errors.New("boom")

	assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	b := New("execution", 1, 10*time.Second)
	b.nowFn = func() time.Time { return now }
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	now = now.Add(11 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestStateChangeHandler(t *testing.T) {
	b := New("oracle", 1, time.Minute)
	got := make(chan State, 1)
	b.SetStateChangeHandler(func(name string, from, to State) {
		assert.Equal(t, "oracle", name)
		assert.Equal(t, StateClosed, from)
		got <- to
	})
	b.RecordFailure()
	select {
	case to := <-got:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestNilBreakerRunsFn(t *testing.T) {
	var b *Breaker
	assert.NoError(t, b.Do(func() error { return nil }))
}
