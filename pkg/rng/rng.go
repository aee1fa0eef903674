// Package rng supplies the random bytes used for key-derivation salts. The
// default source XORs several independently seeded generators so the output
// is at least as strong as the best of them; crypto/rand is always included.
package rng

import (
	"context"
	"crypto/cipher"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand"
	"sync"

	"github.com/rayozzie/pixvault/pkg/trace"
	"github.com/seehuhn/mt19937"
	"golang.org/x/crypto/chacha20"
)

// RNG fills p entirely with random bytes or returns an error.
type RNG interface {
	Read(ctx context.Context, p []byte) error
}

// CryptoRNG reads from the operating system CSPRNG.
type CryptoRNG struct {
	lock sync.Mutex
}

func (r *CryptoRNG) Read(ctx context.Context, p []byte) error {
	log := trace.FromContext(ctx).WithPrefix("CRYPTO-RNG")
	log.Tracef("Reading %d random bytes from crypto/rand", len(p))

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, err := crand.Read(p); err != nil {
		log.Error(fmt.Errorf("crypto/rand read failed: %w", err))
		return fmt.Errorf("crypto/rand read failed: %w", err)
	}
	return nil
}

// ChaCha20RNG produces a ChaCha20 keystream under a key and nonce drawn
// from crypto/rand.
type ChaCha20RNG struct {
	lock   sync.Mutex
	stream cipher.Stream
}

// NewChaCha20RNG creates a ChaCha20 keystream generator.
func NewChaCha20RNG() (*ChaCha20RNG, error) {
	key := make([]byte, chacha20.KeySize)
	nonce := make([]byte, chacha20.NonceSize)
	if _, err := crand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate ChaCha20 key: %w", err)
	}
	if _, err := crand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate ChaCha20 nonce: %w", err)
	}
	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20 stream: %w", err)
	}
	return &ChaCha20RNG{stream: stream}, nil
}

func (c *ChaCha20RNG) Read(ctx context.Context, p []byte) error {
	trace.FromContext(ctx).WithPrefix("CHACHA20-RNG").Tracef("Reading %d bytes of keystream", len(p))

	c.lock.Lock()
	defer c.lock.Unlock()

	clear(p)
	c.stream.XORKeyStream(p, p)
	return nil
}

// MT19937RNG is a Mersenne Twister seeded from crypto/rand. It is only ever
// used as one input of a MultiRNG.
type MT19937RNG struct {
	lock sync.Mutex
	rng  *mrand.Rand
}

// NewMT19937RNG creates a Mersenne Twister generator.
func NewMT19937RNG() (*MT19937RNG, error) {
	var seed [8]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("failed to generate MT19937 seed: %w", err)
	}
	mt := mt19937.New()
	mt.Seed(int64(binary.LittleEndian.Uint64(seed[:])))
	return &MT19937RNG{rng: mrand.New(mt)}, nil
}

func (m *MT19937RNG) Read(ctx context.Context, p []byte) error {
	trace.FromContext(ctx).WithPrefix("MT19937-RNG").Tracef("Reading %d bytes", len(p))

	m.lock.Lock()
	defer m.lock.Unlock()

	for i := range p {
		p[i] = byte(m.rng.Intn(256))
	}
	return nil
}

// MultiRNG XORs the output of all of its sources.
type MultiRNG struct {
	Sources []RNG
	lock    sync.Mutex
}

func (m *MultiRNG) Read(ctx context.Context, p []byte) error {
	log := trace.FromContext(ctx).WithPrefix("MULTI-RNG")
	log.Tracef("Generating %d random bytes from %d sources", len(p), len(m.Sources))
	if len(m.Sources) == 0 {
		return fmt.Errorf("no random sources configured")
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	acc := make([]byte, len(p))
	tmp := make([]byte, len(p))
	for i, s := range m.Sources {
		if err := s.Read(ctx, tmp); err != nil {
			log.Error(fmt.Errorf("random source #%d failed: %w", i+1, err))
			return fmt.Errorf("random source #%d failed: %w", i+1, err)
		}
		for j := range acc {
			acc[j] ^= tmp[j]
		}
	}
	copy(p, acc)
	return nil
}

// NewDefault returns crypto/rand mixed with ChaCha20 and MT19937. If a
// secondary generator cannot be seeded it is left out; crypto/rand is
// always present.
func NewDefault() RNG {
	m := &MultiRNG{Sources: []RNG{&CryptoRNG{}}}
	if c, err := NewChaCha20RNG(); err == nil {
		m.Sources = append(m.Sources, c)
	}
	if mt, err := NewMT19937RNG(); err == nil {
		m.Sources = append(m.Sources, mt)
	}
	return m
}

// Bytes returns n fresh bytes from r.
func Bytes(ctx context.Context, r RNG, n int) ([]byte, error) {
	b := make([]byte, n)
	if err := r.Read(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// TestRNG is a deterministic counter-based generator for tests. It is not
// random at all.
type TestRNG struct {
	lock    sync.Mutex
	counter byte
}

// NewTestRNG creates a TestRNG starting at initial.
func NewTestRNG(initial byte) *TestRNG {
	return &TestRNG{counter: initial}
}

func (r *TestRNG) Read(ctx context.Context, p []byte) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for i := range p {
		p[i] = r.counter
		r.counter++
	}
	return nil
}
