package nn

import (
	"math"
	"math/rand"

	"github.com/ChizhovVadim/StarganVC/internal/ml"
)

// Discriminator has a shared trunk with a critic head (real/fake score) and
// a speaker classification head (logits).
type Discriminator struct {
	featureSize int
	numSpeakers int
	trunk       *MLP
	src         *Layer
	cls         *Layer
}

type DiscriminatorTape struct {
	trunk    *Tape
	src      Cache
	cls      Cache
	trunkErr []float64
	// gradient penalty buffers, one per critic layer
	deltas [][]float64
	errs   [][]float64
}

func NewDiscriminator(rnd *rand.Rand, featureSize, numSpeakers, hiddenSize int) *Discriminator {
	var activation = &ml.LeakyReLuActivation{Slope: leakySlope}
	return &Discriminator{
		featureSize: featureSize,
		numSpeakers: numSpeakers,
		trunk: &MLP{layers: []*Layer{
			NewLayer(featureSize, hiddenSize, activation).
				InitWeightsLeakyReLU(rnd, leakySlope),
			NewLayer(hiddenSize, hiddenSize, activation).
				InitWeightsLeakyReLU(rnd, leakySlope),
		}},
		src: NewLayer(hiddenSize, 1, &ml.IdentityActivation{}).
			InitWeightsLinear(rnd, 1),
		cls: NewLayer(hiddenSize, numSpeakers, &ml.IdentityActivation{}).
			InitWeightsLinear(rnd, 1),
	}
}

func (d *Discriminator) ThreadCopy() *Discriminator {
	return &Discriminator{
		featureSize: d.featureSize,
		numSpeakers: d.numSpeakers,
		trunk:       d.trunk.ThreadCopy(),
		src:         d.src.ThreadCopy(),
		cls:         d.cls.ThreadCopy(),
	}
}

func (d *Discriminator) criticLayers() []*Layer {
	var layers = make([]*Layer, 0, len(d.trunk.layers)+1)
	layers = append(layers, d.trunk.layers...)
	return append(layers, d.src)
}

func (d *Discriminator) NewTape() *DiscriminatorTape {
	var t = &DiscriminatorTape{
		trunk:    d.trunk.NewTape(),
		src:      d.src.NewCache(),
		cls:      d.cls.NewCache(),
		trunkErr: make([]float64, d.src.InputSize()),
	}
	for _, l := range d.criticLayers() {
		t.deltas = append(t.deltas, make([]float64, l.OutputSize()))
		t.errs = append(t.errs, make([]float64, l.InputSize()))
	}
	return t
}

// Forward returns the critic score and the speaker logits. The logits
// slice is owned by t.
func (d *Discriminator) Forward(t *DiscriminatorTape, x []float64) (float64, []float64) {
	var h = d.trunk.Forward(t.trunk, x)
	var score = d.src.Forward(&t.src, h)[0]
	var logits = d.cls.Forward(&t.cls, h)
	return score, logits
}

// Backward accumulates gradients for d(loss)/d(score) = scoreErr and
// d(loss)/d(logits) = logitsErr (nil when the class head is unused) and
// returns the error of x, a slice owned by t.
func (d *Discriminator) Backward(t *DiscriminatorTape, scoreErr float64, logitsErr []float64) []float64 {
	copy(t.trunkErr, d.src.Backward(&t.src, []float64{scoreErr}))
	if logitsErr != nil {
		var e = d.cls.Backward(&t.cls, logitsErr)
		for i := range t.trunkErr {
			t.trunkErr[i] += e[i]
		}
	}
	return d.trunk.Backward(t.trunk, t.trunkErr)
}

// GradientPenalty runs the critic on x and accumulates the gradient of
// weight*(|dScore/dx| - 1)^2 with respect to the critic weights. All critic
// activations are piecewise linear, so the input gradient is linear in each
// weight matrix and the second order terms through the activation
// derivatives vanish. Biases get no gradient.
func (d *Discriminator) GradientPenalty(t *DiscriminatorTape, x []float64, weight float64) float64 {
	var layers = d.criticLayers()
	var caches = make([]*Cache, len(layers))
	for i := range d.trunk.layers {
		caches[i] = &t.trunk.caches[i]
	}
	caches[len(layers)-1] = &t.src
	var input = x
	for i, l := range layers {
		input = l.Forward(caches[i], input)
	}

	// input gradient: e[l-1] = W[l]^T (prime[l] * e[l]) with e[L] = 1
	var upper = []float64{1}
	for i := len(layers) - 1; i >= 0; i-- {
		var l = layers[i]
		var delta = t.deltas[i]
		for o := range delta {
			delta[o] = caches[i].Prime[o] * upper[o]
		}
		var e = t.errs[i]
		for in := range e {
			var s float64
			for o := range delta {
				s += l.weights.Get(o, in) * delta[o]
			}
			e[in] = s
		}
		upper = e
	}

	var grad = t.errs[0]
	var norm float64
	for _, v := range grad {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	var penalty = weight * (norm - 1) * (norm - 1)
	if norm == 0 {
		return penalty
	}

	// r = d(penalty)/d(e[l-1]), walking up from the input
	var r = make([]float64, len(grad))
	for i, v := range grad {
		r[i] = 2 * weight * (norm - 1) * v / norm
	}
	for i, l := range layers {
		var delta = t.deltas[i]
		var next = make([]float64, len(delta))
		for o := range delta {
			var s float64
			for in, rv := range r {
				l.wGradients.Add(o, in, delta[o]*rv)
				s += l.weights.Get(o, in) * rv
			}
			next[o] = caches[i].Prime[o] * s
		}
		r = next
	}
	return penalty
}

func (d *Discriminator) AddGradients(main *Discriminator) {
	if d == main {
		return
	}
	d.trunk.AddGradients(main.trunk)
	d.src.AddGradients(main.src)
	d.cls.AddGradients(main.cls)
}

func (d *Discriminator) ZeroGradients() {
	d.trunk.ZeroGradients()
	d.src.ZeroGradients()
	d.cls.ZeroGradients()
}

func (d *Discriminator) ApplyGradients(opt *ml.Adam) {
	opt.Next()
	d.trunk.ApplyGradients(opt)
	d.src.ApplyGradients(opt)
	d.cls.ApplyGradients(opt)
}
