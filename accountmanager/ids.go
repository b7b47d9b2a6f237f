package accountmanager

import (
	"sync"

	sf "github.com/tinode/snowflake"
)

// idGen produces short, sortable trace IDs for gate tasks and is shared
// process-wide the way the teacher's cluster worker-id generator is
// shared across a node (server/cluster.go). Node 1 is fixed: this module
// has no multi-process coordination of its own, unlike the teacher's
// clustered server.
var (
	idGenOnce sync.Once
	idGen     *sf.Node
)

func nextTraceID() string {
	idGenOnce.Do(func() {
		n, err := sf.NewNode(1)
		if err != nil {
			// Snowflake only fails to construct on an out-of-range node
			// id; 1 is always valid, so this is unreachable in practice.
			panic(err)
		}
		idGen = n
	})
	return idGen.Generate().Base32()
}
