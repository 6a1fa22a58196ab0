package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualAdvanceFiresInOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	clk := NewManual(start)

	var order []string
	var firedAt []time.Time
	clk.AfterFunc(2*time.Hour, func() {
		order = append(order, "second")
		firedAt = append(firedAt, clk.Now())
	})
	clk.AfterFunc(time.Hour, func() {
		order = append(order, "first")
		firedAt = append(firedAt, clk.Now())
	})
	clk.AfterFunc(5*time.Hour, func() { order = append(order, "late") })

	assert.Equal(t, 0, clk.Advance(30*time.Minute))
	assert.Equal(t, 2, clk.Advance(2*time.Hour))
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, []time.Time{start.Add(time.Hour), start.Add(2 * time.Hour)}, firedAt)
	assert.Equal(t, start.Add(150*time.Minute), clk.Now())
	assert.Equal(t, 1, clk.Pending())
}

func TestManualStop(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))

	ran := false
	timer := clk.AfterFunc(time.Minute, func() { ran = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	assert.Equal(t, 0, clk.Advance(time.Hour))
	assert.False(t, ran)

	fired := clk.AfterFunc(time.Second, func() {})
	clk.Advance(time.Second)
	assert.False(t, fired.Stop())
}

func TestManualCallbackSchedulesFollowUp(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))

	count := 0
	clk.AfterFunc(time.Minute, func() {
		count++
		clk.AfterFunc(time.Minute, func() { count++ })
	})

	assert.Equal(t, 2, clk.Advance(10*time.Minute))
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, clk.Pending())
}
