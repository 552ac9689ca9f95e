package iopx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestAckFiresOnlyWhenCountsMatch(t *testing.T) {
	h := NewHandle(Location{Path: "a"}, nil)
	r := NewRequest(OpPread, h)

	r.SetChildCount("broadcast", 3)
	assert.False(t, r.Ack("broadcast"))
	assert.False(t, r.Ack("broadcast"))
	assert.True(t, r.Ack("broadcast"))
	// A fourth Ack would desync the request; callers never issue one,
	// but Ack itself doesn't panic if they do.
	assert.False(t, r.Ack("broadcast"))
}

func TestRequestAckPerLayerIndependent(t *testing.T) {
	h := NewHandle(Location{Path: "a"}, nil)
	r := NewRequest(OpPread, h)

	r.SetChildCount("l1", 1)
	r.SetChildCount("l2", 2)

	assert.True(t, r.Ack("l1"))
	assert.False(t, r.Ack("l2"))
	assert.True(t, r.Ack("l2"))
}

func TestRequestAckConcurrent(t *testing.T) {
	h := NewHandle(Location{Path: "a"}, nil)
	r := NewRequest(OpPread, h)
	r.SetChildCount("broadcast", 100)

	var wg sync.WaitGroup
	var fires int
	var mu sync.Mutex
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Ack("broadcast") {
				mu.Lock()
				fires++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fires)
}

func TestLayerReturnRoundTrip(t *testing.T) {
	h := NewHandle(Location{Path: "a"}, nil)
	r := NewRequest(OpPread, h)

	assert.Nil(t, r.LayerReturn("perf"))
	r.SetLayerReturn("perf", assertErr)
	assert.Equal(t, assertErr, r.LayerReturn("perf"))
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	h := NewHandle(Location{Path: "a"}, nil)
	r := NewRequest(OpPread, h)

	_, ok := r.CorrelationID("perf")
	assert.False(t, ok)

	r.SetCorrelationID("perf", 42)
	id, ok := r.CorrelationID("perf")
	assert.True(t, ok)
	assert.Equal(t, uint64(42), id)
}

var assertErr = errDummy("boom")

type errDummy string

func (e errDummy) Error() string { return string(e) }
