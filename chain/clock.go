package chain

import (
	"sync/atomic"
	"time"
)

// Clock supplies network-adjusted time.
type Clock interface {
	AdjustedTime() time.Time
}

// SystemClock is the local clock shifted by an offset. The offset would come
// from peers; without networking it stays at whatever the operator sets.
type SystemClock struct {
	offset atomic.Int64
}

func NewSystemClock() *SystemClock { return &SystemClock{} }

func (c *SystemClock) AdjustedTime() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *SystemClock) SetOffset(d time.Duration) { c.offset.Store(int64(d)) }

func (c *SystemClock) Offset() time.Duration { return time.Duration(c.offset.Load()) }
