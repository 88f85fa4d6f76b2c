package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

var ErrLoaderClosed = errors.New("dataset: loader closed")

// Batch is a set of flattened segments with the speaker label of each.
type Batch struct {
	Features [][]float64
	Labels   []int
}

type LoaderOptions struct {
	BatchSize     int
	SegmentFrames int
	Dim           int
	Workers       int
	Seed          int64
	// Prefetch is the number of ready batches kept in the channel.
	Prefetch int
}

// Loader produces random training batches on background goroutines.
// Next blocks until a batch is ready.
type Loader struct {
	batches chan *Batch
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

type trainItem struct {
	utterance *Utterance
	label     int
}

func NewLoader(
	ctx context.Context,
	logger *slog.Logger,
	utterances []Utterance,
	speakers *SpeakerIndex,
	opts LoaderOptions,
) (*Loader, error) {
	if opts.BatchSize <= 0 || opts.SegmentFrames <= 0 {
		return nil, fmt.Errorf("dataset: bad loader options %+v", opts)
	}
	var items []trainItem
	for i := range utterances {
		var u = &utterances[i]
		if u.Dim != opts.Dim {
			return nil, fmt.Errorf("dataset: utterance %q has dimension %v, expected %v", u.Name, u.Dim, opts.Dim)
		}
		var label, ok = speakers.Label(u.Speaker)
		if !ok {
			return nil, fmt.Errorf("dataset: utterance %q has unknown speaker %q", u.Name, u.Speaker)
		}
		if len(u.Frames) < opts.SegmentFrames {
			logger.Warn("utterance shorter than a segment is skipped",
				"name", u.Name,
				"frames", len(u.Frames),
				"segment_frames", opts.SegmentFrames)
			continue
		}
		items = append(items, trainItem{utterance: u, label: label})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("dataset: no utterance has %v frames", opts.SegmentFrames)
	}

	ctx, cancel := context.WithCancel(ctx)
	var l = &Loader{
		batches: make(chan *Batch, max(1, opts.Prefetch)),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < max(1, opts.Workers); i++ {
		var rnd = rand.New(rand.NewSource(opts.Seed + int64(i)))
		g.Go(func() error {
			return produceBatches(ctx, rnd, items, opts, l.batches)
		})
	}
	go func() {
		var err = g.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			l.err = err
		}
		close(l.batches)
		close(l.done)
	}()
	return l, nil
}

func produceBatches(
	ctx context.Context,
	rnd *rand.Rand,
	items []trainItem,
	opts LoaderOptions,
	batches chan<- *Batch,
) error {
	var featureSize = opts.Dim * opts.SegmentFrames
	for {
		var batch = &Batch{
			Features: make([][]float64, opts.BatchSize),
			Labels:   make([]int, opts.BatchSize),
		}
		for i := range batch.Features {
			var item = items[rnd.Intn(len(items))]
			var start = rnd.Intn(len(item.utterance.Frames) - opts.SegmentFrames + 1)
			var segment = make([]float64, featureSize)
			Crop(item.utterance, start, opts.SegmentFrames, segment)
			batch.Features[i] = segment
			batch.Labels[i] = item.label
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batches <- batch:
		}
	}
}

func (l *Loader) Next(ctx context.Context) (*Batch, error) {
	select {
	case <-l.done:
		return nil, l.closedErr()
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case batch, ok := <-l.batches:
		if !ok {
			<-l.done
			return nil, l.closedErr()
		}
		return batch, nil
	}
}

func (l *Loader) closedErr() error {
	if l.err != nil {
		return l.err
	}
	return ErrLoaderClosed
}

// Close stops the workers and waits for them.
func (l *Loader) Close() error {
	l.cancel()
	<-l.done
	return l.err
}
