package hoo

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/rand"
)

// decision names a random-dependent choice a node makes. Each node draws at
// most one value per decision; later queries get the cached draw.
type decision uint8

const (
	decisionTieBreak decision = iota
	decisionAxis
	numDecisions
)

// streamSeed keys a node's private stream on (seed, branch id, decision).
func streamSeed(seed int64, branchID uint64, d decision) uint64 {
	var buf [17]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(seed))
	binary.LittleEndian.PutUint64(buf[8:16], branchID)
	buf[16] = byte(d)
	return xxhash.Sum64(buf[:])
}

// draw returns the node's uniform [0,1) value for decision d.
func (n *Node) draw(seed int64, d decision) float64 {
	if n.drawn[d] {
		return n.draws[d]
	}
	rng := rand.New(rand.NewSource(streamSeed(seed, n.BranchID, d)))
	n.draws[d] = rng.Float64()
	n.drawn[d] = true
	return n.draws[d]
}
