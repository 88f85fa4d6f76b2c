package nn

import "github.com/ChizhovVadim/StarganVC/internal/ml"

type MLP struct {
	layers []*Layer
}

type Tape struct {
	caches []Cache
}

func (m *MLP) ThreadCopy() *MLP {
	var layers = make([]*Layer, len(m.layers))
	for i, l := range m.layers {
		layers[i] = l.ThreadCopy()
	}
	return &MLP{layers: layers}
}

func (m *MLP) NewTape() *Tape {
	var caches = make([]Cache, len(m.layers))
	for i, l := range m.layers {
		caches[i] = l.NewCache()
	}
	return &Tape{caches: caches}
}

func (m *MLP) Forward(t *Tape, input []float64) []float64 {
	var x = input
	for i, l := range m.layers {
		x = l.Forward(&t.caches[i], x)
	}
	return x
}

func (m *MLP) Backward(t *Tape, outErr []float64) []float64 {
	var e = outErr
	for i := len(m.layers) - 1; i >= 0; i-- {
		e = m.layers[i].Backward(&t.caches[i], e)
	}
	return e
}

func (m *MLP) AddGradients(main *MLP) {
	if m == main {
		return
	}
	for i, l := range m.layers {
		l.AddGradients(main.layers[i])
	}
}

func (m *MLP) ZeroGradients() {
	for _, l := range m.layers {
		l.ZeroGradients()
	}
}

func (m *MLP) ApplyGradients(opt *ml.Adam) {
	for _, l := range m.layers {
		l.ApplyGradients(opt)
	}
}
