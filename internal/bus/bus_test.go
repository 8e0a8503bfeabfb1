package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitInRegistrationOrder(t *testing.T) {
	b := New()

	var calls []string
	b.On("tick", func(interface{}) { calls = append(calls, "first") })
	b.On("tick", func(interface{}) { calls = append(calls, "second") })
	b.On("other", func(interface{}) { calls = append(calls, "other") })

	b.Emit("tick", nil)

	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestEmitPassesPayload(t *testing.T) {
	b := New()

	var got interface{}
	b.On("msg", func(p interface{}) { got = p })
	b.Emit("msg", 42)

	assert.Equal(t, 42, got)
}

func TestEmitUnknownNameIsNoop(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() { b.Emit("nobody", "x") })
}

func TestHandlerMayRegisterDuringEmit(t *testing.T) {
	b := New()

	fired := false
	b.On("boot", func(interface{}) {
		b.On("late", func(interface{}) { fired = true })
	})
	b.Emit("boot", nil)
	b.Emit("late", nil)

	assert.True(t, fired)
}
