// Package deck orders a catalog into the shared swipe deck every session member sees.
package deck

import "hash/fnv"

// Shuffle returns a permutation of items determined only by seed. Members of the
// same session pass the session code and therefore see the same order, across
// requests and across server processes. The input slice is not modified.
func Shuffle[T any](items []T, seed string) []T {
	out := make([]T, len(items))
	copy(out, items)

	rng := newMulberry32(seedHash(seed))
	for i := len(out) - 1; i > 0; i-- {
		j := int(rng.next() * float64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func seedHash(seed string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return h.Sum32()
}

// mulberry32 is a small 32-bit PRNG with good distribution for shuffling.
type mulberry32 struct {
	state uint32
}

func newMulberry32(seed uint32) *mulberry32 {
	return &mulberry32{state: seed}
}

// next returns a float in [0, 1).
func (m *mulberry32) next() float64 {
	m.state += 0x6D2B79F5
	t := m.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	t ^= t >> 14
	return float64(t) / 4294967296.0
}
