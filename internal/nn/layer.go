package nn

import (
	"math/rand"

	"github.com/ChizhovVadim/StarganVC/internal/ml"
)

// Cache keeps the values of one forward pass through a Layer that the
// backward pass needs.
type Cache struct {
	Input  []float64
	Output []float64
	Prime  []float64
	InErr  []float64
}

type Layer struct {
	activationFn ml.IActivationFn
	weights      ml.Matrix
	biases       ml.Matrix
	wGradients   ml.Gradients
	bGradients   ml.Gradients
}

func NewLayer(
	inputSize int,
	outputSize int,
	activationFn ml.IActivationFn,
) *Layer {
	return &Layer{
		activationFn: activationFn,
		weights:      ml.NewMatrix(outputSize, inputSize),
		biases:       ml.NewMatrix(outputSize, 1),
		wGradients:   ml.NewGradients(outputSize, inputSize),
		bGradients:   ml.NewGradients(outputSize, 1),
	}
}

func (l *Layer) InputSize() int  { return l.weights.Cols }
func (l *Layer) OutputSize() int { return l.weights.Rows }

// ThreadCopy shares weights with l and owns its gradients.
func (l *Layer) ThreadCopy() *Layer {
	return &Layer{
		activationFn: l.activationFn,
		weights:      l.weights,
		biases:       l.biases,
		wGradients:   ml.NewGradients(l.wGradients.Rows, l.wGradients.Cols),
		bGradients:   ml.NewGradients(l.bGradients.Rows, l.bGradients.Cols),
	}
}

func (l *Layer) InitWeightsLeakyReLU(rnd *rand.Rand, slope float64) *Layer {
	var inputSize = l.weights.Cols
	var variance = 2.0 / ((1 + slope*slope) * float64(inputSize))
	ml.InitUniform(rnd, l.weights.Data, variance)
	return l
}

func (l *Layer) InitWeightsLinear(rnd *rand.Rand, gain float64) *Layer {
	var inputSize = l.weights.Cols
	ml.InitUniform(rnd, l.weights.Data, gain*gain/float64(inputSize))
	return l
}

func (l *Layer) NewCache() Cache {
	var outputSize = l.OutputSize()
	return Cache{
		Output: make([]float64, outputSize),
		Prime:  make([]float64, outputSize),
		InErr:  make([]float64, l.InputSize()),
	}
}

// Forward keeps a reference to input in c, the caller must not change it
// until Backward is done.
func (l *Layer) Forward(c *Cache, input []float64) []float64 {
	c.Input = input
	for outputIndex := range c.Output {
		var x = l.biases.Data[outputIndex]
		for inputIndex, inputValue := range input {
			x += l.weights.Get(outputIndex, inputIndex) * inputValue
		}
		c.Output[outputIndex] = l.activationFn.Sigma(x)
		c.Prime[outputIndex] = l.activationFn.SigmaPrime(x)
	}
	return c.Output
}

// Backward accumulates weight gradients for the output error outErr and
// returns the error of the layer input.
func (l *Layer) Backward(c *Cache, outErr []float64) []float64 {
	for inputIndex := range c.InErr {
		c.InErr[inputIndex] = 0
	}
	for outputIndex := range c.Output {
		var x = outErr[outputIndex] * c.Prime[outputIndex]
		if x == 0 {
			continue
		}
		l.bGradients.Add(outputIndex, 0, x)
		for inputIndex, inputValue := range c.Input {
			l.wGradients.Add(outputIndex, inputIndex, x*inputValue)
			c.InErr[inputIndex] += l.weights.Get(outputIndex, inputIndex) * x
		}
	}
	return c.InErr
}

func (l *Layer) AddGradients(main *Layer) {
	l.wGradients.AddTo(&main.wGradients)
	l.bGradients.AddTo(&main.bGradients)
}

func (l *Layer) ZeroGradients() {
	l.wGradients.Reset()
	l.bGradients.Reset()
}

func (l *Layer) ApplyGradients(opt *ml.Adam) {
	l.wGradients.Apply(&l.weights, opt)
	l.bGradients.Apply(&l.biases, opt)
}
