package nn

import (
	"math/rand"

	"github.com/ChizhovVadim/StarganVC/internal/ml"
)

const leakySlope = 0.2

// Generator converts a flattened feature segment to the speaker given by a
// label: G(x, c) = x + MLP([x; onehot(c)]).
type Generator struct {
	featureSize int
	numSpeakers int
	net         *MLP
}

type GeneratorTape struct {
	net    *Tape
	input  []float64
	output []float64
	inErr  []float64
}

func NewGenerator(rnd *rand.Rand, featureSize, numSpeakers, hiddenSize int) *Generator {
	var activation = &ml.LeakyReLuActivation{Slope: leakySlope}
	return &Generator{
		featureSize: featureSize,
		numSpeakers: numSpeakers,
		net: &MLP{layers: []*Layer{
			NewLayer(featureSize+numSpeakers, hiddenSize, activation).
				InitWeightsLeakyReLU(rnd, leakySlope),
			NewLayer(hiddenSize, hiddenSize, activation).
				InitWeightsLeakyReLU(rnd, leakySlope),
			// small gain keeps the initial mapping close to identity
			NewLayer(hiddenSize, featureSize, &ml.IdentityActivation{}).
				InitWeightsLinear(rnd, 0.1),
		}},
	}
}

func (g *Generator) FeatureSize() int { return g.featureSize }
func (g *Generator) NumSpeakers() int { return g.numSpeakers }

func (g *Generator) ThreadCopy() *Generator {
	return &Generator{
		featureSize: g.featureSize,
		numSpeakers: g.numSpeakers,
		net:         g.net.ThreadCopy(),
	}
}

func (g *Generator) NewTape() *GeneratorTape {
	return &GeneratorTape{
		net:    g.net.NewTape(),
		input:  make([]float64, g.featureSize+g.numSpeakers),
		output: make([]float64, g.featureSize),
		inErr:  make([]float64, g.featureSize),
	}
}

// Forward returns a slice owned by t.
func (g *Generator) Forward(t *GeneratorTape, x []float64, speaker int) []float64 {
	copy(t.input, x)
	for i := 0; i < g.numSpeakers; i++ {
		t.input[g.featureSize+i] = 0
	}
	t.input[g.featureSize+speaker] = 1
	var delta = g.net.Forward(t.net, t.input)
	for i := range t.output {
		t.output[i] = x[i] + delta[i]
	}
	return t.output
}

// Backward returns the error of x, a slice owned by t.
func (g *Generator) Backward(t *GeneratorTape, outErr []float64) []float64 {
	var e = g.net.Backward(t.net, outErr)
	for i := range t.inErr {
		t.inErr[i] = outErr[i] + e[i]
	}
	return t.inErr
}

func (g *Generator) AddGradients(main *Generator) {
	g.net.AddGradients(main.net)
}

func (g *Generator) ZeroGradients() {
	g.net.ZeroGradients()
}

func (g *Generator) ApplyGradients(opt *ml.Adam) {
	opt.Next()
	g.net.ApplyGradients(opt)
}
