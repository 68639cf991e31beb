package engine

import (
	"hash/fnv"
	"sync"
)

// issueLocks is an arena of issue-id-keyed mutexes. Mutations of one issue
// serialize on its lock while different issues proceed in parallel; there
// is no global lock. Locks live in a fixed shard array so the arena never
// grows with the issue count.
type issueLocks struct {
	shards [lockShards]sync.Mutex
}

const lockShards = 128

func newIssueLocks() *issueLocks {
	return &issueLocks{}
}

func (l *issueLocks) lock(issueID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(issueID))
	mu := &l.shards[h.Sum32()%lockShards]
	mu.Lock()
	return mu
}
