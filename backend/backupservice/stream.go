package backupservice

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/quorumfs/dm/dmerrors"
)

// StreamState is one position in the per-stream state machine of spec
// §4.A: IDLE -> CLAIMED -> ITEM-OPEN -> ITEM-SENDING -> ITEM-END -> IDLE.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamClaimed
	StreamItemOpen
	StreamItemSending
	StreamItemEnd
)

// legal maps each state to the states it may transition to; anything
// else is rejected with ENOSR (spec: "illegal transitions are
// rejected with ENOSR").
var legal = map[StreamState][]StreamState{
	StreamIdle:        {StreamClaimed},
	StreamClaimed:     {StreamItemOpen, StreamIdle},
	StreamItemOpen:    {StreamItemSending, StreamIdle},
	StreamItemSending: {StreamItemEnd, StreamItemSending},
	StreamItemEnd:     {StreamIdle},
}

// Stream owns a simulated backend stream handle and the item uuid
// it is currently transferring, if any.
type Stream struct {
	index int

	mu    sync.Mutex
	state StreamState
	uuid  [16]byte
}

func (s *Stream) transition(to StreamState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ok := range legal[s.state] {
		if ok == to {
			s.state = to
			return nil
		}
	}
	return dmerrors.ErrBadState
}

// Manager is the stream manager of spec §3/§5: it either hands out
// streams from a shared freelist (backup mode, non-reservation) or gates
// allocation through a counting semaphore (restore mode, reservation
// on), grounded on golang.org/x/sync/semaphore.Weighted as the
// teacher's broader ecosystem's natural fit for "counting semaphore".
type Manager struct {
	reservation bool
	sem         *semaphore.Weighted

	mu      sync.Mutex
	streams []*Stream
	free    []int
}

// NewManager reserves count streams. reservation enables semaphore
// gating (restore mode); otherwise allocation is a plain freelist pop
// (backup mode's "per-thread slot owner", simplified to a shared
// freelist since Go has no native TLS - see DESIGN.md).
func NewManager(count int, reservation bool) *Manager {
	m := &Manager{reservation: reservation}
	if reservation {
		m.sem = semaphore.NewWeighted(int64(count))
	}
	m.streams = make([]*Stream, count)
	m.free = make([]int, count)
	for i := 0; i < count; i++ {
		m.streams[i] = &Stream{index: i}
		m.free[i] = i
	}
	return m
}

// Acquire claims a stream, blocking on the semaphore in reservation
// mode until one is available.
func (m *Manager) Acquire(ctx context.Context) (*Stream, error) {
	if m.reservation {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return nil, dmerrors.ErrNoStream
		}
	}
	m.mu.Lock()
	if len(m.free) == 0 {
		m.mu.Unlock()
		if m.reservation {
			m.sem.Release(1)
		}
		return nil, dmerrors.ErrNoStream
	}
	idx := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]
	m.mu.Unlock()

	s := m.streams[idx]
	if err := s.transition(StreamClaimed); err != nil {
		m.Release(s)
		return nil, err
	}
	return s, nil
}

// Release returns s to IDLE and back to the free list.
func (m *Manager) Release(s *Stream) {
	s.mu.Lock()
	s.state = StreamIdle
	s.mu.Unlock()

	m.mu.Lock()
	m.free = append(m.free, s.index)
	m.mu.Unlock()
	if m.reservation {
		m.sem.Release(1)
	}
}
