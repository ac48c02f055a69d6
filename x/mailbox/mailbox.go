// Package mailbox provides a single-slot, last-write-wins hand-off
// between the asynchronous receive context and the main loop.
package mailbox

import "sync/atomic"

// Slot holds at most one pending lighting command. The whole slot is
// packed into one word so producer and consumer exchange it atomically:
//
//	bit 16    fresh flag
//	bits 8-15 left channel (LED pattern)
//	bits 0-7  right channel (command)
//
// A newer Put always overwrites an unconsumed older one; Take clears the
// fresh flag in the same atomic swap that reads the values, so a command
// is never dispatched twice nor dropped while fresh.
type Slot struct {
	v atomic.Uint32
}

const freshBit = 1 << 16

// Put publishes a command, replacing any unconsumed one.
// Safe to call from the receive goroutine.
func (s *Slot) Put(left, right byte) {
	s.v.Store(freshBit | uint32(left)<<8 | uint32(right))
}

// Take drains the slot. ok is false when no fresh command is pending.
func (s *Slot) Take() (left, right byte, ok bool) {
	v := s.v.Swap(0)
	if v&freshBit == 0 {
		return 0, 0, false
	}
	return byte(v >> 8), byte(v), true
}

// Fresh reports whether an unconsumed command is pending.
func (s *Slot) Fresh() bool {
	return s.v.Load()&freshBit != 0
}
