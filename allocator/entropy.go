package allocator

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand/v2"
	"sync"

	"golang.org/x/crypto/sha3"
)

// Seeded is a deterministic PCG stream. Two streams with the same seed
// yield the same values, which makes allocation trials reproducible.
type Seeded struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeeded returns a PCG stream for seed.
func NewSeeded(seed uint64) *Seeded {
	return &Seeded{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewCryptoSeeded returns a PCG stream seeded from the operating
// system's CSPRNG.
func NewCryptoSeeded() (*Seeded, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("allocator: read seed: %w", err)
	}
	return NewSeeded(binary.LittleEndian.Uint64(buf[:])), nil
}

func (s *Seeded) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Uint64()
}

// HashStream derives values from SHA3-256(seed || counter), the way
// randomness is commonly derived from public block data. It is fully
// predictable to anyone who knows the seed.
type HashStream struct {
	mu      sync.Mutex
	seed    []byte
	counter uint64
	block   [32]byte
	offset  int
}

// NewHashStream returns a hash stream over seed.
func NewHashStream(seed []byte) *HashStream {
	return &HashStream{seed: append([]byte(nil), seed...), offset: 32}
}

func (h *HashStream) Uint64() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.offset+8 > len(h.block) {
		var ctr [8]byte
		binary.BigEndian.PutUint64(ctr[:], h.counter)
		h.counter++
		h.block = sha3.Sum256(append(append([]byte(nil), h.seed...), ctr[:]...))
		h.offset = 0
	}
	v := binary.BigEndian.Uint64(h.block[h.offset:])
	h.offset += 8
	return v
}
