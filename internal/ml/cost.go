package ml

import "math"

type AbsCost struct{}

func (*AbsCost) Cost(predicted, target float64) float64 {
	var x = predicted - target
	if x < 0 {
		return -x
	}
	return x
}

func (*AbsCost) CostPrime(predicted, target float64) float64 {
	var x = predicted - target
	if x < 0 {
		return -1
	}
	if x > 0 {
		return 1
	}
	return 0
}

// SoftmaxCrossEntropy returns the negative log likelihood of label under
// softmax(logits). When grad is not nil it receives d(loss)/d(logits).
func SoftmaxCrossEntropy(logits []float64, label int, grad []float64) float64 {
	var maxLogit = logits[0]
	for _, z := range logits[1:] {
		if z > maxLogit {
			maxLogit = z
		}
	}
	var sum float64
	for _, z := range logits {
		sum += math.Exp(z - maxLogit)
	}
	var logSum = maxLogit + math.Log(sum)
	if grad != nil {
		for i, z := range logits {
			grad[i] = math.Exp(z - logSum)
		}
		grad[label] -= 1
	}
	return logSum - logits[label]
}
