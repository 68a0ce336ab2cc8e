package chatclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type viewCalls struct {
	scrolled int
	seen     int
}

func newTestViewport() (*Viewport, *viewCalls) {
	c := &viewCalls{}
	return NewViewport(func() { c.scrolled++ }, func() { c.seen++ }), c
}

var (
	atBottom   = Scroll{Top: 930, Height: 1500, ClientHeight: 500}
	scrolledUp = Scroll{Top: 200, Height: 1500, ClientHeight: 500}
)

func TestScrollAtBottom(t *testing.T) {
	assert.True(t, atBottom.AtBottom())
	assert.True(t, Scroll{Top: 1000, Height: 1500, ClientHeight: 500}.AtBottom())
	assert.False(t, Scroll{Top: 919, Height: 1500, ClientHeight: 500}.AtBottom())
}

func TestViewportAtBottomScrollsAndMarksSeen(t *testing.T) {
	v, c := newTestViewport()

	assert.True(t, v.OnNewMessage(atBottom, false))
	assert.Equal(t, 1, c.scrolled)
	assert.Equal(t, 1, c.seen)
	assert.False(t, v.HasNewMessages())
}

func TestViewportScrolledUpDefersSeen(t *testing.T) {
	v, c := newTestViewport()

	assert.False(t, v.OnNewMessage(scrolledUp, false))
	assert.True(t, v.HasNewMessages())
	assert.Zero(t, c.seen)

	v.OnScroll(scrolledUp)
	assert.Zero(t, c.seen)

	v.OnScroll(atBottom)
	assert.False(t, v.HasNewMessages())
	assert.Equal(t, 1, c.seen)
	assert.Zero(t, c.scrolled)
}

func TestViewportOwnMessageAlwaysScrolls(t *testing.T) {
	v, c := newTestViewport()

	assert.True(t, v.OnNewMessage(scrolledUp, true))
	assert.Equal(t, 1, c.scrolled)
	assert.Zero(t, c.seen)
}

func TestViewportJumpToLatest(t *testing.T) {
	v, c := newTestViewport()
	v.OnNewMessage(scrolledUp, false)

	v.JumpToLatest()
	assert.False(t, v.HasNewMessages())
	assert.Equal(t, 1, c.scrolled)
	assert.Equal(t, 1, c.seen)
}

func TestAnchorRestore(t *testing.T) {
	a := CaptureAnchor(Scroll{Top: 10, Height: 1000, ClientHeight: 500})
	assert.Equal(t, float64(610), a.Restore(1600))
}
