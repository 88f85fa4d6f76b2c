package ml

import (
	"math"
	"testing"
)

func TestSoftmaxCrossEntropy(t *testing.T) {
	var logits = []float64{0.3, -1.2, 2.0, 0.1}
	var grad = make([]float64, len(logits))
	var loss = SoftmaxCrossEntropy(logits, 2, grad)
	if loss <= 0 {
		t.Error("loss", loss)
	}
	var sum float64
	for _, g := range grad {
		sum += g
	}
	if math.Abs(sum) > 1e-12 {
		t.Error("gradient sum", sum)
	}
	const eps = 1e-6
	for i := range logits {
		var saved = logits[i]
		logits[i] = saved + eps
		var plus = SoftmaxCrossEntropy(logits, 2, nil)
		logits[i] = saved - eps
		var minus = SoftmaxCrossEntropy(logits, 2, nil)
		logits[i] = saved
		var numeric = (plus - minus) / (2 * eps)
		if math.Abs(numeric-grad[i]) > 1e-6 {
			t.Error(i, numeric, grad[i])
		}
	}
}

func TestSoftmaxCrossEntropyLargeLogits(t *testing.T) {
	var loss = SoftmaxCrossEntropy([]float64{1000, 0}, 0, nil)
	if !IsFinite(loss) || loss > 1e-9 {
		t.Error(loss)
	}
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	var opt = NewAdam(0.05, 0.5, 0.999)
	var m = NewMatrix(2, 1)
	m.Data[0], m.Data[1] = 3, -2
	var g = NewGradients(2, 1)
	for step := 0; step < 500; step++ {
		for i := range m.Data {
			g.Data[i].Value = 2 * m.Data[i]
		}
		opt.Next()
		g.Apply(&m, opt)
	}
	for i, v := range m.Data {
		if math.Abs(v) > 0.05 {
			t.Error(i, v)
		}
	}
	if opt.Step != 500 {
		t.Error("step", opt.Step)
	}
}

func TestGradientsAddTo(t *testing.T) {
	var child = NewGradients(2, 2)
	var parent = NewGradients(2, 2)
	child.Add(1, 0, 0.5)
	parent.Add(1, 0, 1)
	child.AddTo(&parent)
	if parent.Get(1, 0) != 1.5 || child.Get(1, 0) != 0 {
		t.Error(parent.Get(1, 0), child.Get(1, 0))
	}
}

func TestLeakyReLu(t *testing.T) {
	var a = &LeakyReLuActivation{Slope: 0.2}
	if a.Sigma(-1) != -0.2 || a.Sigma(2) != 2 {
		t.Error(a.Sigma(-1), a.Sigma(2))
	}
	if a.SigmaPrime(-1) != 0.2 || a.SigmaPrime(2) != 1 {
		t.Error(a.SigmaPrime(-1), a.SigmaPrime(2))
	}
}

func TestAbsCost(t *testing.T) {
	var c = &AbsCost{}
	if c.Cost(1, 3) != 2 || c.CostPrime(1, 3) != -1 || c.CostPrime(3, 1) != 1 {
		t.Error(c.Cost(1, 3), c.CostPrime(1, 3))
	}
}
