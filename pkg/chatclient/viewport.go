package chatclient

import "sync"

// BottomThreshold is how close to the end, in pixels, still counts as at the bottom.
const BottomThreshold = 80

// Scroll is a snapshot of the scroll region.
type Scroll struct {
	Top          float64
	Height       float64
	ClientHeight float64
}

func (s Scroll) AtBottom() bool {
	return s.Height-s.Top-s.ClientHeight <= BottomThreshold
}

// Anchor remembers the scroll position before older messages are prepended.
type Anchor struct {
	top    float64
	height float64
}

func CaptureAnchor(s Scroll) Anchor {
	return Anchor{top: s.Top, height: s.Height}
}

// Restore returns the scroll offset that keeps the same messages in view once the
// content has grown to newHeight.
func (a Anchor) Restore(newHeight float64) float64 {
	return a.top + (newHeight - a.height)
}

// Viewport decides between auto-scrolling and the "new message" affordance, and when to
// mark the conversation seen.
type Viewport struct {
	scrollToBottom func()
	markSeen       func()

	mu     sync.Mutex
	hasNew bool
}

func NewViewport(scrollToBottom, markSeen func()) *Viewport {
	return &Viewport{scrollToBottom: scrollToBottom, markSeen: markSeen}
}

// OnNewMessage handles an arriving message. Own messages always scroll into view.
// It reports whether the view scrolled.
func (v *Viewport) OnNewMessage(s Scroll, own bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if own || s.AtBottom() {
		v.hasNew = false
		v.scrollToBottom()
		if !own {
			v.markSeen()
		}
		return true
	}
	v.hasNew = true
	return false
}

// OnScroll clears the affordance and marks seen once the viewer is back at the bottom.
func (v *Viewport) OnScroll(s Scroll) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.hasNew && s.AtBottom() {
		v.hasNew = false
		v.markSeen()
	}
}

// JumpToLatest is the affordance being clicked.
func (v *Viewport) JumpToLatest() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.hasNew = false
	v.scrollToBottom()
	v.markSeen()
}

func (v *Viewport) HasNewMessages() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hasNew
}
