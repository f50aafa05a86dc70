package proxy

import (
	"fmt"
	"sort"
	"time"

	"github.com/twinleaf/tio/pkg/proto"
)

// rpcMapEntry tracks one in-flight RPC that has been forwarded to the
// device under a rewritten wire id.
type rpcMapEntry struct {
	origID   uint16
	client   uint64
	route    proto.Route
	deadline time.Time
}

// expiredRPC is one entry removed by ExpireUntil.
type expiredRPC struct {
	wire  uint16
	entry rpcMapEntry
}

// deadlineBucket groups the wire ids sharing one deadline instant.
type deadlineBucket struct {
	at  time.Time
	ids map[uint16]struct{}
}

// remapTable is the bidirectional RPC id table: a primary map from wire id
// to entry, and a deadline index ordered by time. Every wire id in the
// primary map appears in exactly one bucket of the index and vice versa;
// empty buckets are pruned on removal. All mutation goes through Insert,
// Remove and ExpireUntil so the two structures cannot drift apart.
type remapTable struct {
	nextID   uint16
	entries  map[uint16]rpcMapEntry
	timeline []deadlineBucket
}

func newRemapTable() *remapTable {
	return &remapTable{entries: make(map[uint16]rpcMapEntry)}
}

// Allocate returns the next wire id. The counter always advances, even
// when the returned id turns out to be taken, so a later allocation can
// land on a freed slot.
func (t *remapTable) Allocate() uint16 {
	id := t.nextID
	t.nextID++
	return id
}

// Contains reports whether a wire id is in flight.
func (t *remapTable) Contains(wire uint16) bool {
	_, ok := t.entries[wire]
	return ok
}

// Len returns the number of in-flight RPCs.
func (t *remapTable) Len() int {
	return len(t.entries)
}

// Insert adds an entry under a wire id to both structures. The id must not
// be in flight.
func (t *remapTable) Insert(wire uint16, e rpcMapEntry) {
	if _, dup := t.entries[wire]; dup {
		panic(fmt.Sprintf("rpc map: duplicate insert of wire id %d", wire))
	}
	t.entries[wire] = e
	i := t.bucketIndex(e.deadline)
	if i < len(t.timeline) && t.timeline[i].at.Equal(e.deadline) {
		t.timeline[i].ids[wire] = struct{}{}
		return
	}
	bucket := deadlineBucket{at: e.deadline, ids: map[uint16]struct{}{wire: {}}}
	t.timeline = append(t.timeline, deadlineBucket{})
	copy(t.timeline[i+1:], t.timeline[i:])
	t.timeline[i] = bucket
}

// Remove deletes a wire id from both structures and returns its entry.
func (t *remapTable) Remove(wire uint16) (rpcMapEntry, bool) {
	e, ok := t.entries[wire]
	if !ok {
		return rpcMapEntry{}, false
	}
	delete(t.entries, wire)
	i := t.bucketIndex(e.deadline)
	if i >= len(t.timeline) || !t.timeline[i].at.Equal(e.deadline) {
		panic(fmt.Sprintf("rpc map: wire id %d missing deadline bucket", wire))
	}
	if _, present := t.timeline[i].ids[wire]; !present {
		panic(fmt.Sprintf("rpc map: wire id %d missing from deadline index", wire))
	}
	delete(t.timeline[i].ids, wire)
	if len(t.timeline[i].ids) == 0 {
		t.timeline = append(t.timeline[:i], t.timeline[i+1:]...)
	}
	return e, true
}

// ExpireUntil removes every entry whose deadline is strictly before until
// and returns them in deadline order.
func (t *remapTable) ExpireUntil(until time.Time) []expiredRPC {
	var expired []expiredRPC
	for len(t.timeline) > 0 && t.timeline[0].at.Before(until) {
		bucket := t.timeline[0]
		t.timeline = t.timeline[1:]
		for wire := range bucket.ids {
			e, ok := t.entries[wire]
			if !ok {
				panic(fmt.Sprintf("rpc map: expired wire id %d missing entry", wire))
			}
			delete(t.entries, wire)
			expired = append(expired, expiredRPC{wire: wire, entry: e})
		}
	}
	return expired
}

// NextDeadline returns the earliest in-flight deadline.
func (t *remapTable) NextDeadline() (time.Time, bool) {
	if len(t.timeline) == 0 {
		return time.Time{}, false
	}
	return t.timeline[0].at, true
}

// bucketIndex returns the position of the bucket for a deadline, or the
// insertion point if no such bucket exists.
func (t *remapTable) bucketIndex(at time.Time) int {
	return sort.Search(len(t.timeline), func(i int) bool {
		return !t.timeline[i].at.Before(at)
	})
}
