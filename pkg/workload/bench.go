package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sdcio/workpool/pkg/pool"
)

type BenchConfig struct {
	Workers     int
	Producers   int
	Batches     int // per producer
	BatchSize   int
	PayloadSize int
	// MaxInflight caps the number of batches waiting on the pool at once.
	// Zero means Producers.
	MaxInflight int64
	Seed        int64
	Metrics     *pool.Metrics
}

type BenchResult struct {
	RunID    string
	Pool     string
	Workers  int
	Tasks    int
	Duration time.Duration
	Stats    pool.Stats
}

// Throughput returns hashed payloads per second.
func (r *BenchResult) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Tasks) / r.Duration.Seconds()
}

func (c *BenchConfig) validate() error {
	if c.Workers < 1 {
		return pool.ErrInvalidWorkerCount
	}
	if c.Producers < 1 || c.Batches < 1 || c.BatchSize < 1 || c.PayloadSize < 1 {
		return errors.New("producers, batches, batch size and payload size must be positive")
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = int64(c.Producers)
	}
	return nil
}

// Bench runs producers concurrently, each hashing its batches through a
// fresh pool, and reports timing plus the pool counters.
func Bench(ctx context.Context, cfg BenchConfig) (*BenchResult, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	runID := uuid.New().String()
	var opts []pool.Option
	if cfg.Metrics != nil {
		opts = append(opts, pool.WithMetrics(cfg.Metrics))
	}
	p := pool.New("bench-"+runID[:8], opts...)
	if err := p.Start(cfg.Workers); err != nil {
		return nil, err
	}
	defer p.Stop()

	h := NewHasher(p)
	sem := semaphore.NewWeighted(cfg.MaxInflight)
	eg, ctx := errgroup.WithContext(ctx)

	start := time.Now()
	for i := 0; i < cfg.Producers; i++ {
		producer := i
		eg.Go(func() error {
			rnd := rand.New(rand.NewSource(cfg.Seed + int64(producer)))
			for b := 0; b < cfg.Batches; b++ {
				payloads := randomPayloads(rnd, cfg.BatchSize, cfg.PayloadSize)
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				_, err := h.HashAll(ctx, payloads)
				sem.Release(1)
				if err != nil {
					return fmt.Errorf("producer %d batch %d: %w", producer, b, err)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	took := time.Since(start)
	// joins the workers so the counters below are final
	p.Stop()

	res := &BenchResult{
		RunID:    runID,
		Pool:     p.Name(),
		Workers:  cfg.Workers,
		Tasks:    cfg.Producers * cfg.Batches * cfg.BatchSize,
		Duration: took,
		Stats:    p.Stats(),
	}
	log.WithField("run", runID).Infof("hashed %d payloads in %s", res.Tasks, took)
	return res, nil
}

func randomPayloads(rnd *rand.Rand, n, size int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		b := make([]byte, size)
		rnd.Read(b)
		out[i] = b
	}
	return out
}
