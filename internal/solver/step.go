package solver

import (
	"sync"
	"sync/atomic"

	"github.com/ChizhovVadim/StarganVC/internal/dataset"
	"github.com/ChizhovVadim/StarganVC/internal/ml"
	"github.com/ChizhovVadim/StarganVC/internal/nn"
)

type discriminatorLosses struct {
	Real  float64
	Fake  float64
	Cls   float64
	GP    float64
	Total float64
}

func (l *discriminatorLosses) add(other *discriminatorLosses) {
	l.Real += other.Real
	l.Fake += other.Fake
	l.Cls += other.Cls
	l.GP += other.GP
}

func (l *discriminatorLosses) finite() bool {
	return ml.IsFinite(l.Real) && ml.IsFinite(l.Fake) && ml.IsFinite(l.Cls) &&
		ml.IsFinite(l.GP) && ml.IsFinite(l.Total)
}

type generatorLosses struct {
	Fake  float64
	Rec   float64
	Cls   float64
	ID    float64
	Total float64
}

func (l *generatorLosses) add(other *generatorLosses) {
	l.Fake += other.Fake
	l.Rec += other.Rec
	l.Cls += other.Cls
	l.ID += other.ID
}

func (l *generatorLosses) finite() bool {
	return ml.IsFinite(l.Fake) && ml.IsFinite(l.Rec) && ml.IsFinite(l.Cls) &&
		ml.IsFinite(l.ID) && ml.IsFinite(l.Total)
}

// weights scales per sample gradients so that the summed gradient is the
// gradient of the batch mean.
type weights struct {
	batch float64
	cls   float64
	rec   float64
	gp    float64
	id    float64
}

// worker owns the tapes and private gradients of one goroutine. The
// networks share weights with the main copies.
type worker struct {
	g      *nn.Generator
	d      *nn.Discriminator
	gFake  *nn.GeneratorTape
	gRec   *nn.GeneratorTape
	gID    *nn.GeneratorTape
	dTape  *nn.DiscriminatorTape
	gpTape *nn.DiscriminatorTape

	logitsErr []float64
	fakeErr   []float64
	outErr    []float64
	mixed     []float64

	dLosses discriminatorLosses
	gLosses generatorLosses
}

func newWorker(g *nn.Generator, d *nn.Discriminator) *worker {
	var featureSize = g.FeatureSize()
	return &worker{
		g:         g,
		d:         d,
		gFake:     g.NewTape(),
		gRec:      g.NewTape(),
		gID:       g.NewTape(),
		dTape:     d.NewTape(),
		gpTape:    d.NewTape(),
		logitsErr: make([]float64, g.NumSpeakers()),
		fakeErr:   make([]float64, featureSize),
		outErr:    make([]float64, featureSize),
		mixed:     make([]float64, featureSize),
	}
}

type sample struct {
	x      []float64
	label  int
	target int
	alpha  float64
}

// discriminatorSample accumulates the gradient of
// -D(x) + D(G(x,c')) + cls*CE(x, c) + gp*(|grad D(mix)| - 1)^2
// for one sample.
func (w *worker) discriminatorSample(s *sample, wt *weights) {
	var score, logits = w.d.Forward(w.dTape, s.x)
	var ce = ml.SoftmaxCrossEntropy(logits, s.label, w.logitsErr)
	scale(w.logitsErr, wt.cls*wt.batch)
	w.d.Backward(w.dTape, -wt.batch, w.logitsErr)
	w.dLosses.Real -= score * wt.batch
	w.dLosses.Cls += ce * wt.batch

	var fake = w.g.Forward(w.gFake, s.x, s.target)
	var fakeScore, _ = w.d.Forward(w.dTape, fake)
	w.d.Backward(w.dTape, wt.batch, nil)
	w.dLosses.Fake += fakeScore * wt.batch

	if wt.gp != 0 {
		for i := range w.mixed {
			w.mixed[i] = s.alpha*s.x[i] + (1-s.alpha)*fake[i]
		}
		var penalty = w.d.GradientPenalty(w.gpTape, w.mixed, wt.gp*wt.batch)
		w.dLosses.GP += penalty / wt.gp
	}
}

// generatorSample accumulates the gradient of
// -D(G(x,c')) + cls*CE(G(x,c'), c') + rec*|x - G(G(x,c'),c)| + id*|x - G(x,c)|
// for one sample. Discriminator gradients collected on the way are
// discarded by the next discriminator step.
func (w *worker) generatorSample(s *sample, wt *weights) {
	var cost = &ml.AbsCost{}
	var featureSize = float64(len(s.x))

	var fake = w.g.Forward(w.gFake, s.x, s.target)
	var score, logits = w.d.Forward(w.dTape, fake)
	var ce = ml.SoftmaxCrossEntropy(logits, s.target, w.logitsErr)
	scale(w.logitsErr, wt.cls*wt.batch)
	copy(w.fakeErr, w.d.Backward(w.dTape, -wt.batch, w.logitsErr))
	w.gLosses.Fake -= score * wt.batch
	w.gLosses.Cls += ce * wt.batch

	var rec = w.g.Forward(w.gRec, fake, s.label)
	var recLoss float64
	for i := range rec {
		recLoss += cost.Cost(rec[i], s.x[i])
		w.outErr[i] = cost.CostPrime(rec[i], s.x[i]) * wt.rec * wt.batch / featureSize
	}
	w.gLosses.Rec += recLoss / featureSize * wt.batch
	var e = w.g.Backward(w.gRec, w.outErr)
	for i := range w.fakeErr {
		w.fakeErr[i] += e[i]
	}
	w.g.Backward(w.gFake, w.fakeErr)

	var id = w.g.Forward(w.gID, s.x, s.label)
	var idLoss float64
	for i := range id {
		idLoss += cost.Cost(id[i], s.x[i])
		w.outErr[i] = cost.CostPrime(id[i], s.x[i]) * wt.id * wt.batch / featureSize
	}
	w.gLosses.ID += idLoss / featureSize * wt.batch
	w.g.Backward(w.gID, w.outErr)
}

func scale(v []float64, k float64) {
	for i := range v {
		v[i] *= k
	}
}

func (s *Solver) weights(batchSize int) *weights {
	return &weights{
		batch: 1 / float64(batchSize),
		cls:   s.cfg.LambdaCls,
		rec:   s.cfg.LambdaRec,
		gp:    s.cfg.LambdaGP,
		id:    s.cfg.LambdaID,
	}
}

// samples draws the random target speakers and mixing coefficients on the
// calling goroutine so that results do not depend on scheduling.
func (s *Solver) samples(batch *dataset.Batch) []sample {
	var result = make([]sample, len(batch.Features))
	for i := range result {
		result[i] = sample{
			x:      batch.Features[i],
			label:  batch.Labels[i],
			target: s.rnd.Intn(s.cfg.NumSpeakers),
			alpha:  s.rnd.Float64(),
		}
	}
	return result
}

func (s *Solver) trainDiscriminator(batch *dataset.Batch) discriminatorLosses {
	var samples = s.samples(batch)
	var wt = s.weights(len(samples))
	for _, w := range s.workers {
		w.d.ZeroGradients()
		w.dLosses = discriminatorLosses{}
	}
	runBatch(s.workers, len(samples), func(w *worker, i int) {
		w.discriminatorSample(&samples[i], wt)
	})
	var losses discriminatorLosses
	for _, w := range s.workers {
		w.d.AddGradients(s.d)
		losses.add(&w.dLosses)
	}
	s.d.ApplyGradients(s.dOpt)
	s.stats.DiscriminatorSteps++
	losses.Total = losses.Real + losses.Fake + s.cfg.LambdaCls*losses.Cls + s.cfg.LambdaGP*losses.GP
	return losses
}

func (s *Solver) trainGenerator(batch *dataset.Batch) generatorLosses {
	var samples = s.samples(batch)
	var wt = s.weights(len(samples))
	for _, w := range s.workers {
		w.g.ZeroGradients()
		w.gLosses = generatorLosses{}
	}
	runBatch(s.workers, len(samples), func(w *worker, i int) {
		w.generatorSample(&samples[i], wt)
	})
	var losses generatorLosses
	for _, w := range s.workers {
		w.g.AddGradients(s.g)
		losses.add(&w.gLosses)
	}
	s.g.ApplyGradients(s.gOpt)
	s.stats.GeneratorSteps++
	losses.Total = losses.Fake + s.cfg.LambdaCls*losses.Cls + s.cfg.LambdaRec*losses.Rec + s.cfg.LambdaID*losses.ID
	return losses
}

func runBatch(workers []*worker, size int, f func(w *worker, i int)) {
	var index int32 = -1
	var wg = &sync.WaitGroup{}
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			for {
				var i = int(atomic.AddInt32(&index, 1))
				if i >= size {
					break
				}
				f(w, i)
			}
		}(w)
	}
	wg.Wait()
}
