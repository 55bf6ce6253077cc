package dataset

import (
	"context"
	"errors"
	"math/rand"
	"sync"
)

// IteratorOptions configures a per-split batch iterator.
type IteratorOptions struct {
	Shards          []string
	Seed            int64
	GlobalBatchSize int
	NumWorkers      int
	PendingCap      int
}

// Iterator yields batches from one data split indefinitely: it cycles the
// split's shards pass after pass, and pads the final batch of each pass with
// zero-weight examples so every pass covers each example exactly once.
type Iterator struct {
	events    <-chan event
	errCh     <-chan error
	batchSize int
	cancel    context.CancelFunc
}

type event struct {
	sample  Sample
	passEnd bool
}

// NewIterator launches the shard streaming pipeline for one split.
func NewIterator(parent context.Context, opts IteratorOptions) (*Iterator, error) {
	if len(opts.Shards) == 0 {
		return nil, errors.New("iterator: no shards provided")
	}
	if opts.GlobalBatchSize <= 0 {
		return nil, errors.New("iterator: global batch size must be > 0")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}

	ctx, cancel := context.WithCancel(parent)

	jobs := make(chan shardJob, opts.NumWorkers)
	cursors := make(chan shardCursor, opts.NumWorkers)
	events := make(chan event, opts.NumWorkers*2)
	errCh := make(chan error, opts.NumWorkers)

	rng := rand.New(rand.NewSource(opts.Seed))

	go produceJobs(ctx, jobs, opts.Shards, rng)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, cursors, opts.PendingCap)
		}()
	}

	go func() {
		wg.Wait()
		close(cursors)
	}()

	go func() {
		defer cancel()
		defer close(events)
		defer close(errCh)
		runAggregator(ctx, cursors, events, errCh, len(opts.Shards))
	}()

	return &Iterator{
		events:    events,
		errCh:     errCh,
		batchSize: opts.GlobalBatchSize,
		cancel:    cancel,
	}, nil
}

// Next assembles and returns the next global batch. Real examples carry
// weight 1; padding appended at a pass boundary carries weight 0.
func (it *Iterator) Next(ctx context.Context) (*Batch, error) {
	batch := newBatch(it.batchSize)
	filled := 0
	for filled < it.batchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err, ok := <-it.errCh:
			if ok && err != nil {
				return nil, err
			}
		case ev, ok := <-it.events:
			if !ok {
				return nil, errors.New("iterator: stream closed")
			}
			if ev.passEnd {
				if filled == 0 {
					continue
				}
				// Remaining slots stay zero-valued with weight 0.
				return batch, nil
			}
			batch.put(filled, ev.sample)
			filled++
		}
	}
	return batch, nil
}

// Close stops the underlying pipeline.
func (it *Iterator) Close() {
	it.cancel()
}

func newBatch(n int) *Batch {
	return &Batch{
		Inputs:    make([]float32, n*SliceSize),
		Targets:   make([]float32, n*SliceSize),
		Mean:      make([]float32, n),
		Std:       make([]float32, n),
		VolumeMax: make([]float32, n),
		Weights:   make([]float32, n),
		N:         n,
	}
}

func (b *Batch) put(i int, s Sample) {
	copy(b.Inputs[i*SliceSize:(i+1)*SliceSize], s.Input)
	copy(b.Targets[i*SliceSize:(i+1)*SliceSize], s.Target)
	b.Mean[i] = s.Mean
	b.Std[i] = s.Std
	b.VolumeMax[i] = s.VolumeMax
	b.Weights[i] = 1
}

type shardJob struct {
	id   int64
	path string
}

type shardCursor struct {
	id      int64
	samples <-chan Sample
	errCh   <-chan error
}

func worker(ctx context.Context, jobs <-chan shardJob, cursors chan<- shardCursor, pendingCap int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			samples, errCh := StreamShard(ctx, job.path, pendingCap)
			cursor := shardCursor{id: job.id, samples: samples, errCh: errCh}
			select {
			case <-ctx.Done():
				return
			case cursors <- cursor:
			}
		}
	}
}

// runAggregator forwards samples in shard-job order so the stream stays
// deterministic for a fixed seed, and marks the end of each pass over the
// split's shards.
func runAggregator(ctx context.Context, cursors <-chan shardCursor, out chan<- event, errCh chan<- error, shardsPerPass int) {
	pending := make(map[int64]shardCursor)
	var nextID int64
	for {
		cursor, ok := pending[nextID]
		if !ok {
			select {
			case <-ctx.Done():
				return
			case cursor, ok = <-cursors:
				if !ok {
					return
				}
				pending[cursor.id] = cursor
			}
			continue
		}

		for {
			select {
			case <-ctx.Done():
				return
			case sample, ok := <-cursor.samples:
				if !ok {
					goto shardDone
				}
				select {
				case <-ctx.Done():
					return
				case out <- event{sample: sample}:
				}
			}
		}

	shardDone:
		if err := <-cursor.errCh; err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
			return
		}
		delete(pending, nextID)
		nextID++
		if nextID%int64(shardsPerPass) == 0 {
			select {
			case <-ctx.Done():
				return
			case out <- event{passEnd: true}:
			}
		}
	}
}

// produceJobs cycles the shard list indefinitely, reshuffling each pass.
func produceJobs(ctx context.Context, jobs chan<- shardJob, shards []string, rng *rand.Rand) {
	var jobID int64
	for {
		order := append([]string(nil), shards...)
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
		for _, path := range order {
			select {
			case <-ctx.Done():
				return
			case jobs <- shardJob{id: jobID, path: path}:
				jobID++
			}
		}
	}
}
