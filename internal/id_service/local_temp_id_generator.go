package id_service

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// LocalTempIdGenerator mints provisional ids for entities created while
// offline. Ids are ordinal so that a reopened client store can resume
// minting after the highest one in use (see SetNext). A journal replay
// pairs the server's assigned ids with the journal's creates in order;
// it does not use the ordinals.
type LocalTempIdGenerator struct {
	nextID atomic.Uint64
}

func NewLocalTempIdGenerator() *LocalTempIdGenerator {
	return &LocalTempIdGenerator{}
}

func (g *LocalTempIdGenerator) GenerateID() string {
	n := g.nextID.Add(1) - 1
	return NthProvisionalID(n)
}

func (g *LocalTempIdGenerator) ResetGenerator() {
	g.nextID.Store(0)
}

// SetNext positions the generator so the next minted id is ordinal n.
// Used when reopening a client store that already holds provisional ids.
func (g *LocalTempIdGenerator) SetNext(n uint64) {
	g.nextID.Store(n)
}

// Next reports the ordinal the generator would mint next.
func (g *LocalTempIdGenerator) Next() uint64 {
	return g.nextID.Load()
}

// NthProvisionalID renders ordinal n as a provisional id, zero-padded
// to the fixed id width.
func NthProvisionalID(n uint64) string {
	return fmt.Sprintf("%s%0*d", ProvisionalPrefix, IDLength-len(ProvisionalPrefix), n)
}

// ProvisionalOrdinal extracts n from a provisional id produced by
// NthProvisionalID.
func ProvisionalOrdinal(id string) (uint64, error) {
	if !IsProvisional(id) {
		return 0, fmt.Errorf("not a provisional id: %q", id)
	}

	n, err := strconv.ParseUint(id[len(ProvisionalPrefix):], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed provisional id %q: %w", id, err)
	}

	return n, nil
}

// IsProvisional reports whether id belongs to the client-provisional
// namespace.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}
