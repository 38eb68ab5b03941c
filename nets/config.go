package nets

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Channels  int `json:"channels"`  // image channels, in and out
	Features  int `json:"features"`  // filters of the first layer; the bottleneck has 4×Features
	Residuals int `json:"residuals"` // number of residual blocks
}

// DefaultGeneratorConf is the 9 residual block generator used for 256×256 RGB images.
func DefaultGeneratorConf() GeneratorConfig {
	return GeneratorConfig{
		Channels:  3,
		Features:  64,
		Residuals: 9,
	}
}

func (conf GeneratorConfig) IsValid() bool {
	return conf.Channels >= 1 &&
		conf.Features >= 1 &&
		conf.Residuals >= 0
}

// DiscriminatorConfig configures a patch Discriminator.
type DiscriminatorConfig struct {
	Channels int     `json:"channels"` // image channels
	Features []int   `json:"features"` // filters per block. All but the last block halve the resolution
	Slope    float64 `json:"slope"`    // leaky ReLU slope
}

// DefaultDiscriminatorConf is the 70×70 patch discriminator.
func DefaultDiscriminatorConf() DiscriminatorConfig {
	return DiscriminatorConfig{
		Channels: 3,
		Features: []int{64, 128, 256, 512},
		Slope:    0.2,
	}
}

func (conf DiscriminatorConfig) IsValid() bool {
	if conf.Channels < 1 || len(conf.Features) == 0 || conf.Slope < 0 || conf.Slope >= 1 {
		return false
	}
	for _, f := range conf.Features {
		if f < 1 {
			return false
		}
	}
	return true
}
