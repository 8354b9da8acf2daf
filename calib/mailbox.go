package calib

import (
	"sync"
)

// rawMailbox holds at most one raw frame waiting for the calibration worker.
// A new frame overwrites an unread one.
type rawMailbox struct {
	mu      sync.Mutex
	frame   RawFrame
	pending bool
	drops   uint64

	// paused stops TryTake from handing out frames; Publish still works.
	paused bool
	// inFlight is set from TryTake until the worker has published the result.
	inFlight bool

	// wake has capacity one; Publish never blocks on it.
	wake chan struct{}
}

func newRawMailbox() *rawMailbox {
	return &rawMailbox{wake: make(chan struct{}, 1)}
}

// Publish stores frame, replacing whatever is pending, and wakes the worker.
func (m *rawMailbox) Publish(frame RawFrame) {
	m.mu.Lock()
	if m.pending {
		m.drops++
	}
	m.frame = frame
	m.pending = true
	m.mu.Unlock()

	m.signal()
}

func (m *rawMailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// TryTake hands the pending frame to the worker and empties the slot. The
// frame counts as in flight until done is called.
func (m *rawMailbox) TryTake() (RawFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pending || m.paused {
		return RawFrame{}, false
	}
	frame := m.frame
	m.frame = RawFrame{}
	m.pending = false
	m.inFlight = true
	return frame, true
}

// done marks the frame returned by TryTake as published.
func (m *rawMailbox) done() {
	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()
}

func (m *rawMailbox) setPaused(paused bool) {
	m.mu.Lock()
	m.paused = paused
	m.mu.Unlock()
	m.signal()
}

func (m *rawMailbox) isPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// busy is true while a frame waits in the slot or is being calibrated.
func (m *rawMailbox) busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending || m.inFlight
}

func (m *rawMailbox) isInFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// IsPending reports whether a frame is waiting, and its index.
func (m *rawMailbox) IsPending() (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending, m.frame.Index
}

func (m *rawMailbox) Drops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

// clear drops a pending frame without counting it.
func (m *rawMailbox) clear() {
	m.mu.Lock()
	m.frame = RawFrame{}
	m.pending = false
	m.inFlight = false
	m.mu.Unlock()
}

// calibratedMailbox holds at most one calibrated frame waiting for the consumer.
//
// The worker fills its own frame and Publish swaps it with the slot, so the lock
// only covers a pointer swap on the producing side. Take copies out under the
// lock, so the slot is never written while it is being read.
type calibratedMailbox struct {
	mu      sync.Mutex
	slot    *CalibratedFrame
	pending bool
	drops   uint64
	taken   uint64
}

func newCalibratedMailbox() *calibratedMailbox {
	return &calibratedMailbox{slot: &CalibratedFrame{}}
}

// Publish makes frame the pending frame and returns the buffer it replaced,
// for the worker to reuse. An unread frame is dropped.
func (m *calibratedMailbox) Publish(frame *CalibratedFrame) *CalibratedFrame {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending {
		m.drops++
	}
	old := m.slot
	m.slot = frame
	m.pending = true
	return old
}

// Take copies the pending frame into out. It returns false if nothing is pending.
func (m *calibratedMailbox) Take(out *CalibratedFrame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pending {
		return false
	}
	m.slot.CopyTo(out)
	m.pending = false
	m.taken++
	return true
}

// IsPending reports whether a frame is waiting, and its index.
func (m *calibratedMailbox) IsPending() (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending, m.slot.Index
}

func (m *calibratedMailbox) counts() (uint64, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops, m.taken
}

// release frees the slot buffer. Only called once the worker is stopped.
func (m *calibratedMailbox) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot.Release()
	m.pending = false
}
