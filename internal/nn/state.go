package nn

import (
	"fmt"

	"github.com/ChizhovVadim/StarganVC/internal/ml"
)

// LayerState is the serializable form of a Layer, optimizer moments
// included.
type LayerState struct {
	Weights    ml.Matrix    `msgpack:"weights"`
	Biases     ml.Matrix    `msgpack:"biases"`
	WGradients ml.Gradients `msgpack:"w_gradients"`
	BGradients ml.Gradients `msgpack:"b_gradients"`
}

type NetworkState struct {
	FeatureSize int          `msgpack:"feature_size"`
	NumSpeakers int          `msgpack:"num_speakers"`
	Layers      []LayerState `msgpack:"layers"`
	Optimizer   ml.Adam      `msgpack:"optimizer"`
}

func (l *Layer) state() LayerState {
	return LayerState{
		Weights:    l.weights,
		Biases:     l.biases,
		WGradients: l.wGradients,
		BGradients: l.bGradients,
	}
}

func (l *Layer) setState(s LayerState) error {
	if !l.weights.SameShape(&s.Weights) || !l.biases.SameShape(&s.Biases) {
		return fmt.Errorf("layer shape %vx%v, checkpoint %vx%v",
			l.weights.Rows, l.weights.Cols, s.Weights.Rows, s.Weights.Cols)
	}
	if len(s.WGradients.Data) != len(l.wGradients.Data) || len(s.BGradients.Data) != len(l.bGradients.Data) {
		return fmt.Errorf("optimizer state does not match layer shape %vx%v",
			l.weights.Rows, l.weights.Cols)
	}
	// copy in place so that thread copies keep sharing the weights
	copy(l.weights.Data, s.Weights.Data)
	copy(l.biases.Data, s.Biases.Data)
	copy(l.wGradients.Data, s.WGradients.Data)
	copy(l.bGradients.Data, s.BGradients.Data)
	return nil
}

func layersState(layers []*Layer) []LayerState {
	var result = make([]LayerState, len(layers))
	for i, l := range layers {
		result[i] = l.state()
	}
	return result
}

func setLayersState(layers []*Layer, states []LayerState) error {
	if len(states) != len(layers) {
		return fmt.Errorf("network has %v layers, checkpoint %v", len(layers), len(states))
	}
	for i, l := range layers {
		if err := l.setState(states[i]); err != nil {
			return fmt.Errorf("layer %v: %w", i, err)
		}
	}
	return nil
}

func (g *Generator) State(opt *ml.Adam) NetworkState {
	return NetworkState{
		FeatureSize: g.featureSize,
		NumSpeakers: g.numSpeakers,
		Layers:      layersState(g.net.layers),
		Optimizer:   *opt,
	}
}

// SetState restores weights into g and the optimizer into opt.
func (g *Generator) SetState(s NetworkState, opt *ml.Adam) error {
	if s.FeatureSize != g.featureSize || s.NumSpeakers != g.numSpeakers {
		return fmt.Errorf("generator %v/%v, checkpoint %v/%v",
			g.featureSize, g.numSpeakers, s.FeatureSize, s.NumSpeakers)
	}
	if err := setLayersState(g.net.layers, s.Layers); err != nil {
		return err
	}
	restoreOptimizer(opt, s.Optimizer)
	return nil
}

func (d *Discriminator) layers() []*Layer {
	return append(d.criticLayers(), d.cls)
}

func (d *Discriminator) State(opt *ml.Adam) NetworkState {
	return NetworkState{
		FeatureSize: d.featureSize,
		NumSpeakers: d.numSpeakers,
		Layers:      layersState(d.layers()),
		Optimizer:   *opt,
	}
}

func (d *Discriminator) SetState(s NetworkState, opt *ml.Adam) error {
	if s.FeatureSize != d.featureSize || s.NumSpeakers != d.numSpeakers {
		return fmt.Errorf("discriminator %v/%v, checkpoint %v/%v",
			d.featureSize, d.numSpeakers, s.FeatureSize, s.NumSpeakers)
	}
	if err := setLayersState(d.layers(), s.Layers); err != nil {
		return err
	}
	restoreOptimizer(opt, s.Optimizer)
	return nil
}

// restoreOptimizer keeps the betas of opt, they come from the
// configuration of the current run.
func restoreOptimizer(opt *ml.Adam, saved ml.Adam) {
	if opt == nil {
		return
	}
	opt.LearningRate = saved.LearningRate
	opt.Step = saved.Step
}
