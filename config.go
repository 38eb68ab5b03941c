package cyclegan

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gorgonia/cyclegan/amp"
	"github.com/gorgonia/cyclegan/nets"
	"github.com/pkg/errors"
)

// Checkpoint files, in Config.CheckpointDir.
const (
	CheckpointGenH    = "genh.ckpt"
	CheckpointGenD    = "gend.ckpt"
	CheckpointCriticH = "critich.ckpt"
	CheckpointCriticD = "criticd.ckpt"
)

// Config configures a CycleGAN run.
type Config struct {
	Name string `json:"name"`

	// TrainDir and ValDir each hold a DomainD and a DomainH subdirectory.
	TrainDir string `json:"train_dir"`
	ValDir   string `json:"val_dir"`
	DomainD  string `json:"domain_d"`
	DomainH  string `json:"domain_h"`
	ValLimit int    `json:"val_limit"` // validation pairs translated per epoch. 0 is all of them

	CheckpointDir  string `json:"checkpoint_dir"`
	SampleDir      string `json:"sample_dir"`
	StatisticsFile string `json:"statistics_file"`
	LoadModel      bool   `json:"load_model"`
	SaveModel      bool   `json:"save_model"`
	SaveEvery      int    `json:"save_every"` // epochs

	Height   int     `json:"height"`
	Width    int     `json:"width"`
	FlipProb float64 `json:"flip_prob"`

	BatchSize int   `json:"batch_size"`
	Epochs    int   `json:"epochs"`
	Shuffle   bool  `json:"shuffle"`
	Workers   int   `json:"workers"` // 0 picks one per spare logical core
	Prefetch  int   `json:"prefetch"`
	Seed      int64 `json:"seed"`

	LearnRate      float64 `json:"learn_rate"`
	Beta1          float64 `json:"beta1"`
	Beta2          float64 `json:"beta2"`
	LambdaCycle    float64 `json:"lambda_cycle"`
	LambdaIdentity float64 `json:"lambda_identity"`

	// MixedPrecision runs both phases of a step in a reduced-precision region with
	// dynamic loss scaling. It overrides Scaler.Enabled.
	MixedPrecision bool             `json:"mixed_precision"`
	Scaler         amp.ScalerConfig `json:"scaler"`
	Device         string           `json:"device"`

	LogEvery    int `json:"log_every"`    // steps. 0 never logs
	SampleEvery int `json:"sample_every"` // steps. 0 never samples

	Generator     nets.GeneratorConfig     `json:"generator"`
	Discriminator nets.DiscriminatorConfig `json:"discriminator"`
}

// requiredKeys must be present in a config file.
var requiredKeys = []string{"train_dir", "batch_size", "epochs", "learn_rate"}

// DefaultConfig returns the configuration of the leaf disease experiments.
func DefaultConfig() Config {
	return Config{
		Name:          "cyclegan",
		DomainD:       "bacterial_leaf_blight",
		DomainH:       "healthy",
		ValLimit:      8,
		CheckpointDir: ".",
		SampleDir:     "saved_images",
		SaveModel:     true,
		SaveEvery:     1,

		Height:   256,
		Width:    256,
		FlipProb: 0.5,

		BatchSize: 1,
		Epochs:    10,
		Shuffle:   true,
		Workers:   4,
		Prefetch:  2,
		Seed:      1337,

		LearnRate:      1e-5,
		Beta1:          0.5,
		Beta2:          0.999,
		LambdaCycle:    10,
		LambdaIdentity: 0,

		MixedPrecision: true,
		Scaler:         amp.DefaultScalerConfig(),
		Device:         "auto",

		LogEvery:    50,
		SampleEvery: 200,

		Generator:     nets.DefaultGeneratorConf(),
		Discriminator: nets.DefaultDiscriminatorConf(),
	}
}

// Validate reports every problem of the config.
func (conf Config) Validate() error {
	var errs manyErr
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, errors.Errorf(format, args...))
		}
	}
	check(conf.TrainDir != "", "train_dir is required")
	check(conf.DomainD != "" && conf.DomainH != "", "both domains must be named")
	check(conf.DomainD != conf.DomainH, "domains must differ, both are %q", conf.DomainD)
	check(conf.ValLimit >= 0, "val_limit %d is negative", conf.ValLimit)
	check(conf.CheckpointDir != "" || !(conf.LoadModel || conf.SaveModel), "checkpoint_dir is required to load or save models")
	check(!conf.SaveModel || conf.SaveEvery >= 1, "save_every must be at least 1, got %d", conf.SaveEvery)

	check(conf.Height > 0 && conf.Width > 0, "image size %d×%d must be positive", conf.Height, conf.Width)
	check(conf.Height%4 == 0 && conf.Width%4 == 0, "image size %d×%d must be divisible by 4", conf.Height, conf.Width)
	check(conf.FlipProb >= 0 && conf.FlipProb <= 1, "flip_prob %v is not in [0, 1]", conf.FlipProb)

	check(conf.BatchSize >= 1, "batch_size must be at least 1, got %d", conf.BatchSize)
	check(conf.Epochs >= 0, "epochs %d is negative", conf.Epochs)
	check(conf.Workers >= 0, "workers %d is negative", conf.Workers)
	check(conf.Prefetch >= 1, "prefetch must be at least 1, got %d", conf.Prefetch)

	check(conf.LearnRate > 0, "learn_rate must be positive, got %v", conf.LearnRate)
	check(conf.Beta1 >= 0 && conf.Beta1 < 1 && conf.Beta2 >= 0 && conf.Beta2 < 1, "betas (%v, %v) must be in [0, 1)", conf.Beta1, conf.Beta2)
	check(conf.LambdaCycle >= 0 && conf.LambdaIdentity >= 0, "loss weights must not be negative")

	scaler := conf.Scaler
	scaler.Enabled = conf.MixedPrecision
	check(scaler.IsValid(), "invalid scaler %+v", conf.Scaler)
	check(conf.LogEvery >= 0 && conf.SampleEvery >= 0, "log_every and sample_every must not be negative")

	check(conf.Generator.IsValid(), "invalid generator %+v", conf.Generator)
	check(conf.Discriminator.IsValid(), "invalid discriminator %+v", conf.Discriminator)
	check(conf.Generator.Channels == conf.Discriminator.Channels, "generator has %d channels, discriminator %d", conf.Generator.Channels, conf.Discriminator.Channels)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// LoadConfig reads a JSON config file over DefaultConfig. Unknown keys and missing
// required keys are errors, and so is an invalid result.
func LoadConfig(path string) (Config, error) {
	conf := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return conf, errors.WithStack(err)
	}

	var keys map[string]json.RawMessage
	if err = json.Unmarshal(raw, &keys); err != nil {
		return conf, errors.Wrapf(err, "parsing %s", path)
	}
	for _, k := range requiredKeys {
		if _, ok := keys[k]; !ok {
			return conf, errors.Errorf("%s: missing required key %q", path, k)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err = dec.Decode(&conf); err != nil {
		return conf, errors.Wrapf(err, "parsing %s", path)
	}
	if err = conf.Validate(); err != nil {
		return conf, errors.Wrapf(err, "invalid config %s", path)
	}
	return conf, nil
}

func (conf Config) checkpoint(name string) string { return filepath.Join(conf.CheckpointDir, name) }

func (conf Config) domainDirs(root string) (string, string) {
	return filepath.Join(root, conf.DomainD), filepath.Join(root, conf.DomainH)
}
