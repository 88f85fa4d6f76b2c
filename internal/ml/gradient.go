package ml

import "math"

// Adam holds the optimizer hyperparameters and the step counter shared by
// all tensors of one network.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Step         int

	correction1 float64
	correction2 float64
}

func NewAdam(learningRate, beta1, beta2 float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        beta1,
		Beta2:        beta2,
	}
}

// Next starts a new optimization step. Call it once before applying the
// gradients of every tensor.
func (a *Adam) Next() {
	a.Step++
	a.correction1 = 1 - math.Pow(a.Beta1, float64(a.Step))
	a.correction2 = 1 - math.Pow(a.Beta2, float64(a.Step))
}

type Gradient struct {
	Value float64
	M1    float64
	M2    float64
}

type Gradients struct {
	Data []Gradient
	Rows int
	Cols int
}

func (g *Gradient) Calculate(opt *Adam) float64 {
	g.M1 = g.M1*opt.Beta1 + g.Value*(1-opt.Beta1)
	g.M2 = g.M2*opt.Beta2 + (g.Value*g.Value)*(1-opt.Beta2)

	var m1 = g.M1 / opt.correction1
	var m2 = g.M2 / opt.correction2
	return opt.LearningRate * m1 / (math.Sqrt(m2) + 1e-8)
}

func NewGradients(rows, cols int) Gradients {
	return Gradients{
		Data: make([]Gradient, cols*rows),
		Rows: rows,
		Cols: cols,
	}
}

func (g *Gradients) Add(row, col int, delta float64) {
	g.Data[col*g.Rows+row].Value += delta
}

func (g *Gradients) Get(row, col int) float64 {
	return g.Data[col*g.Rows+row].Value
}

func (g *Gradients) AddTo(parent *Gradients) {
	for i := range g.Data {
		parent.Data[i].Value += g.Data[i].Value
		g.Data[i].Value = 0
	}
}

func (g *Gradients) Reset() {
	for i := range g.Data {
		g.Data[i].Value = 0
	}
}

func (g *Gradients) Apply(m *Matrix, opt *Adam) {
	for i := range g.Data {
		m.Data[i] -= g.Data[i].Calculate(opt)
		g.Data[i].Value = 0
	}
}
