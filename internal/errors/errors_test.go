package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBuilder(t *testing.T) {
	t.Parallel()

	err := Newf("delivery failed for order %s", "o1").
		Component("alert").
		Category(CategoryDelivery).
		Context("order_id", "o1").
		Build()

	assert.Equal(t, "delivery failed for order o1", err.Error())
	assert.Equal(t, "alert", err.GetComponent())
	assert.Equal(t, string(CategoryDelivery), err.GetCategory())
	assert.Equal(t, "o1", err.GetContext()["order_id"])
	assert.WithinDuration(t, time.Now(), err.GetTimestamp(), time.Second)
}

func TestErrorBuilderDefaults(t *testing.T) {
	t.Parallel()

	err := Newf("plain failure").Build()
	assert.Equal(t, ComponentUnknown, err.GetComponent())
	assert.Equal(t, string(CategoryGeneric), err.GetCategory())
	assert.Nil(t, err.GetContext())
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	base := fmt.Errorf("base error")
	err := New(fmt.Errorf("wrapped: %w", base)).
		Component("scheduler").
		Category(CategoryScheduling).
		Build()

	assert.True(t, Is(err, base))

	var enhanced *EnhancedError
	require.True(t, As(err, &enhanced))
	assert.Equal(t, "scheduler", enhanced.GetComponent())
}

func TestContextCopyIsolation(t *testing.T) {
	t.Parallel()

	err := Newf("oops").Context("key", "value").Build()
	ctx := err.GetContext()
	ctx["key"] = "mutated"

	assert.Equal(t, "value", err.GetContext()["key"])
}

func TestTimingContext(t *testing.T) {
	t.Parallel()

	err := Newf("slow dispatch").
		Timing("send_alert", 1500*time.Millisecond).
		Build()

	ctx := err.GetContext()
	assert.Equal(t, "send_alert", ctx["operation"])
	assert.Equal(t, int64(1500), ctx["duration_ms"])
}
