package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_AddRemoveSnapshot(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	a := newTestConnection("1", "alice", 1)
	b := newTestConnection("2", "bob", 1)
	b2 := newTestConnection("2", "bob", 1)

	r.Add(a)
	r.Add(b)
	r.Add(b2)
	req.Equal([]*Connection{a, b, b2}, r.Snapshot())
	req.Equal(3, r.Len())

	req.True(r.Remove(b))
	req.Equal([]*Connection{a, b2}, r.Snapshot())

	req.False(r.Remove(b), "second removal is a no-op")
	req.Equal(2, r.Len())
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a := newTestConnection("1", "alice", 1)
	r.Add(a)
	r.Add(a)
	require.Len(t, r.Snapshot(), 1)
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	a := newTestConnection("1", "alice", 1)
	b := newTestConnection("2", "bob", 1)
	r.Add(a)
	r.Add(b)

	snap := r.Snapshot()
	r.Remove(a)
	r.Add(newTestConnection("3", "carol", 1))

	req.Equal([]*Connection{a, b}, snap)
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	r := NewRegistry()
	conns := make([]*Connection, 100)
	for i := range conns {
		conns[i] = newTestConnection("u", "user", 1)
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Add(c)
		}()
		go func() {
			defer wg.Done()
			_ = r.Snapshot()
		}()
	}
	wg.Wait()
	require.Equal(t, len(conns), r.Len())

	removed := make(chan bool, 2*len(conns))
	for _, c := range conns {
		wg.Add(2)
		go func() {
			defer wg.Done()
			removed <- r.Remove(c)
		}()
		go func() {
			defer wg.Done()
			removed <- r.Remove(c)
		}()
	}
	wg.Wait()
	close(removed)

	trues := 0
	for ok := range removed {
		if ok {
			trues++
		}
	}
	require.Equal(t, len(conns), trues, "each connection is removed exactly once")
	require.Zero(t, r.Len())
}
