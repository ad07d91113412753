package router

import (
	"bytes"
	"sort"

	"github.com/zeebo/blake3"
)

// scoredNode pairs a node with its rendezvous score.
type scoredNode struct {
	nodeID string   // nodeID is the candidate node
	score  [32]byte // score is BLAKE3(objectID || nodeID)
}

// Holders returns the replication nodes responsible for objectID, highest
// rendezvous score first. The result only depends on the set of nodes, not
// on their order.
func Holders(objectID []byte, replication int, nodes []string) []string {
	if replication <= 0 || len(nodes) == 0 {
		return nil
	}

	if replication > len(nodes) {
		replication = len(nodes)
	}

	scored := make([]scoredNode, len(nodes))
	for i, id := range nodes {
		scored[i] = scoredNode{nodeID: id, score: placementScore(objectID, id)}
	}

	sort.Slice(scored, func(i, j int) bool {
		return bytes.Compare(scored[i].score[:], scored[j].score[:]) > 0
	})

	result := make([]string, replication)
	for i := range result {
		result[i] = scored[i].nodeID
	}

	return result
}

// placementScore calculates the rendezvous score for an object-node pair.
func placementScore(objectID []byte, nodeID string) [32]byte {
	h := blake3.New()
	h.Write(objectID)
	h.Write([]byte(nodeID))

	var result [32]byte
	h.Sum(result[:0])

	return result
}

// QuorumSize returns how many of replication holders must hold a version
// before it counts as placed: a two-thirds majority, rounded up.
func QuorumSize(replication int) int {
	return (replication*67 + 99) / 100
}
