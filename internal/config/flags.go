package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Binding connects a FlagSet to a Config. Call Resolve after the flags
// are parsed.
type Binding struct {
	fs             *pflag.FlagSet
	cfg            Config
	configPath     string
	useTensorboard rawBool
	resumeIters    optionalInt
	warnings       []string
}

// rawBool keeps the flag text, it is coerced in Resolve once legacy_bool
// is known.
type rawBool struct {
	value string
}

func (b *rawBool) String() string     { return b.value }
func (b *rawBool) Set(s string) error { b.value = s; return nil }
func (b *rawBool) Type() string       { return "bool" }

type optionalInt struct {
	value **int
}

func (o optionalInt) String() string {
	if *o.value == nil {
		return ""
	}
	return strconv.Itoa(**o.value)
}

func (o optionalInt) Set(s string) error {
	var v, err = strconv.Atoi(s)
	if err != nil {
		return err
	}
	*o.value = &v
	return nil
}

func (o optionalInt) Type() string { return "int" }

func Bind(fs *pflag.FlagSet) *Binding {
	var b = &Binding{fs: fs, cfg: Default()}
	var c = &b.cfg
	b.useTensorboard.value = strconv.FormatBool(c.UseTensorboard)
	b.resumeIters.value = &c.ResumeIters

	fs.StringVar(&b.configPath, "config", "", "YAML file with option values, flags override it")

	// Model configuration.
	fs.StringVar(&c.DatasetUsing, "dataset_using", c.DatasetUsing, "VCTK or VCC2016.")
	fs.IntVar(&c.NumSpeakers, "num_speakers", c.NumSpeakers, "dimension of speaker labels")
	fs.Float64Var(&c.LambdaCls, "lambda_cls", c.LambdaCls, "weight for domain classification loss")
	fs.Float64Var(&c.LambdaRec, "lambda_rec", c.LambdaRec, "weight for reconstruction loss")
	fs.Float64Var(&c.LambdaGP, "lambda_gp", c.LambdaGP, "weight for gradient penalty")
	fs.Float64Var(&c.LambdaID, "lambda_id", c.LambdaID, "weight for id mapping loss")
	fs.IntVar(&c.SamplingRate, "sampling_rate", c.SamplingRate, "sampling rate")
	fs.IntVar(&c.NumMcep, "num_mcep", c.NumMcep, "mel-cepstral coefficients per frame")
	fs.IntVar(&c.SegmentFrames, "segment_frames", c.SegmentFrames, "frames per training segment")
	fs.IntVar(&c.GHidden, "g_hidden", c.GHidden, "hidden units of G")
	fs.IntVar(&c.DHidden, "d_hidden", c.DHidden, "hidden units of D")

	// Training configuration.
	fs.IntVar(&c.BatchSize, "batch_size", c.BatchSize, "mini-batch size")
	fs.IntVar(&c.NumIters, "num_iters", c.NumIters, "number of total iterations for training D")
	fs.IntVar(&c.NumItersDecay, "num_iters_decay", c.NumItersDecay, "number of iterations for decaying lr")
	fs.Float64Var(&c.GLR, "g_lr", c.GLR, "learning rate for G")
	fs.Float64Var(&c.DLR, "d_lr", c.DLR, "learning rate for D")
	fs.IntVar(&c.NCritic, "n_critic", c.NCritic, "number of D updates per each G update")
	fs.Float64Var(&c.Beta1, "beta1", c.Beta1, "beta1 for Adam optimizer")
	fs.Float64Var(&c.Beta2, "beta2", c.Beta2, "beta2 for Adam optimizer")
	fs.Var(b.resumeIters, "resume_iters", "resume training from this step")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "seed for weight init, batches and labels")

	// Test configuration.
	fs.IntVar(&c.TestIters, "test_iters", c.TestIters, "test model from this step")

	// Miscellaneous.
	fs.IntVar(&c.NumWorkers, "num_workers", c.NumWorkers, "batch loader goroutines")
	fs.StringVar(&c.Mode, "mode", c.Mode, "train or test")
	fs.Var(&b.useTensorboard, "use_tensorboard", "record losses as live metrics")
	fs.BoolVar(&c.LegacyBool, "legacy_bool", c.LegacyBool, "parse boolean options with the legacy substring rule")
	fs.IntVar(&c.Threads, "threads", c.Threads, "goroutines computing gradients")
	fs.StringVar(&c.MetricsAddr, "metrics_addr", c.MetricsAddr, "serve Prometheus metrics on this address")
	fs.StringVar(&c.LogLevel, "log_level", c.LogLevel, "debug, info, warn or error")

	// Directories.
	fs.StringVar(&c.TrainDataDir, "train_data_dir", c.TrainDataDir, "")
	fs.StringVar(&c.TestDataDir, "test_data_dir", c.TestDataDir, "")
	fs.StringVar(&c.WavDir, "wav_dir", c.WavDir, "")
	fs.StringVar(&c.LogDir, "log_dir", c.LogDir, "")
	fs.StringVar(&c.ModelSaveDir, "model_save_dir", c.ModelSaveDir, "")
	fs.StringVar(&c.SampleDir, "sample_dir", c.SampleDir, "")

	// Step size.
	fs.IntVar(&c.LogStep, "log_step", c.LogStep, "")
	fs.IntVar(&c.SampleStep, "sample_step", c.SampleStep, "")
	fs.IntVar(&c.ModelSaveStep, "model_save_step", c.ModelSaveStep, "")
	fs.IntVar(&c.LrUpdateStep, "lr_update_step", c.LrUpdateStep, "")

	return b
}

// Resolve applies the YAML file (when --config is set), lets explicitly set
// flags win over it, coerces boolean options and validates the result.
func (b *Binding) Resolve() (Config, error) {
	var decaySet = b.fs.Changed("num_iters_decay")
	if b.configPath != "" {
		var explicit = make(map[string]string)
		b.fs.Visit(func(f *pflag.Flag) {
			explicit[f.Name] = f.Value.String()
		})
		keys, err := loadFile(b.configPath, &b.cfg)
		if err != nil {
			return Config{}, err
		}
		decaySet = decaySet || keys["num_iters_decay"]
		for name, value := range explicit {
			if err := b.fs.Lookup(name).Value.Set(value); err != nil {
				return Config{}, fmt.Errorf("config: flag --%v: %w", name, err)
			}
		}
	}
	var cfg = b.cfg
	if b.fs.Changed("use_tensorboard") {
		if cfg.LegacyBool {
			cfg.UseTensorboard = ParseBoolLenient(b.useTensorboard.value)
		} else {
			cfg.UseTensorboard = ParseBool(b.useTensorboard.value)
		}
	}
	if cfg.ResumeIters != nil {
		var v = *cfg.ResumeIters
		cfg.ResumeIters = &v
	}
	// the default decay is longer than a short run, shorten it unless the
	// user asked for it
	if !decaySet && cfg.NumItersDecay > cfg.NumIters {
		b.warnings = append(b.warnings, fmt.Sprintf(
			"num_iters_decay lowered from the default %v to num_iters=%v", cfg.NumItersDecay, cfg.NumIters))
		cfg.NumItersDecay = cfg.NumIters
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Warnings lists the adjustments Resolve made to the options.
func (b *Binding) Warnings() []string {
	return b.warnings
}

// ParseArgs parses command line arguments without a program name.
func ParseArgs(args []string) (Config, error) {
	var fs = pflag.NewFlagSet("stargan", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var b = Bind(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if fs.NArg() != 0 {
		return Config{}, fmt.Errorf("config: unexpected arguments %v", fs.Args())
	}
	return b.Resolve()
}

// LoadFile decodes a YAML file over cfg. Keys that are not options are
// rejected.
func LoadFile(path string, cfg *Config) error {
	_, err := loadFile(path, cfg)
	return err
}

// loadFile also returns the top level keys present in the file.
func loadFile(path string, cfg *Config) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	var dec = yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	var nodes map[string]yaml.Node
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	var keys = make(map[string]bool, len(nodes))
	for key := range nodes {
		keys[key] = true
	}
	return keys, nil
}
