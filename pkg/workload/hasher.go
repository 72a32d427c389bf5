// Package workload contains collaborators that drive a pool the way higher
// layers do: fan a batch out as tasks, wait while assisting, collect results.
package workload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/sdcio/workpool/pkg/pool"
)

var (
	ErrEmptyPayload   = errors.New("empty payload")
	ErrLengthMismatch = errors.New("payload and digest count differ")
)

type Digest [sha256.Size]byte

// DoubleSHA256 returns sha256(sha256(b)).
func DoubleSHA256(b []byte) Digest {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

type Hasher struct {
	pool *pool.ThreadPool
	log  *log.Entry
}

func NewHasher(p *pool.ThreadPool) *Hasher {
	return &Hasher{
		pool: p,
		log:  log.WithFields(log.Fields{"pool": p.Name(), "component": "hasher"}),
	}
}

// HashAll hashes every payload on the pool and returns the digests in input
// order. The caller runs queued tasks while it waits.
func (h *Hasher) HashAll(ctx context.Context, payloads [][]byte) ([]Digest, error) {
	futures := make([]*pool.Future[Digest], 0, len(payloads))
	for i, b := range payloads {
		b := b
		f, err := pool.Submit(h.pool, func() (Digest, error) {
			if len(b) == 0 {
				return Digest{}, ErrEmptyPayload
			}
			return DoubleSHA256(b), nil
		})
		if err != nil {
			return nil, fmt.Errorf("submitting payload %d: %w", i, err)
		}
		futures = append(futures, f)
	}

	out := make([]Digest, len(futures))
	for i, f := range futures {
		if err := h.pool.Assist(ctx, f); err != nil {
			return nil, fmt.Errorf("waiting for payload %d: %w", i, err)
		}
		d, err := f.Get()
		if err != nil {
			return nil, fmt.Errorf("payload %d: %w", i, err)
		}
		out[i] = d
	}
	h.log.Debugf("hashed %d payloads", len(out))
	return out, nil
}

// VerifyAll checks every payload against its expected digest and returns
// the indexes that did not match. Empty payloads are reported through the
// returned error while the remaining payloads are still verified.
func (h *Hasher) VerifyAll(ctx context.Context, payloads [][]byte, digests []Digest) ([]int, error) {
	if len(payloads) != len(digests) {
		return nil, fmt.Errorf("%w: %d payloads, %d digests", ErrLengthMismatch, len(payloads), len(digests))
	}
	g := h.pool.NewGroup(pool.GroupTolerant)
	mismatched := make([]atomic.Bool, len(payloads))
	for i := range payloads {
		i := i
		err := g.Submit(func(func(pool.GroupFunc) error) error {
			if len(payloads[i]) == 0 {
				return fmt.Errorf("payload %d: %w", i, ErrEmptyPayload)
			}
			got := DoubleSHA256(payloads[i])
			if !bytes.Equal(got[:], digests[i][:]) {
				mismatched[i].Store(true)
			}
			return nil
		})
		if err != nil {
			g.CloseForSubmit()
			return nil, fmt.Errorf("submitting payload %d: %w", i, err)
		}
	}
	g.CloseForSubmit()
	if err := h.pool.Assist(ctx, g); err != nil {
		return nil, err
	}

	var bad []int
	for i := range mismatched {
		if mismatched[i].Load() {
			bad = append(bad, i)
		}
	}
	return bad, errors.Join(g.Errors()...)
}
