package bitrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMeter_Sample(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := newMeter(NewEWMADetector(0.5, 0.3, 1), clock.now)

	m.Add(500)
	m.Add(500)
	clock.advance(time.Second)

	s, ok := m.Sample()
	require.True(t, ok)
	assert.InDelta(t, 8000, s.BitsPerSecond, 0.01)
	assert.Equal(t, 2, s.Objects)
	assert.Equal(t, time.Second, s.Window)
	assert.False(t, s.Shift)

	m.Add(250)
	clock.advance(500 * time.Millisecond)

	s, ok = m.Sample()
	require.True(t, ok)
	assert.InDelta(t, 4000, s.BitsPerSecond, 0.01)
	assert.Equal(t, 1, s.Objects)
	assert.True(t, s.Shift)

	_, ok = m.Sample()
	assert.False(t, ok)
}

func TestMeter_NilDetector(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := newMeter(nil, clock.now)

	clock.advance(time.Second)
	s, ok := m.Sample()
	require.True(t, ok)
	assert.Zero(t, s.BitsPerSecond)
	assert.False(t, s.Shift)
}
