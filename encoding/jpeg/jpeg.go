// Package jpeg writes every sample as a JPEG file.
package jpeg

import (
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/gorgonia/cyclegan"
	"github.com/pkg/errors"
)

// Encoder writes the samples into Dir as <direction>_(<step>).jpg. It implements
// cyclegan.SampleEncoder.
type Encoder struct {
	Dir     string
	Quality int
}

// NewEncoder creates the directory if needed.
func NewEncoder(dir string) (*Encoder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.WithStack(err)
	}
	return &Encoder{Dir: dir, Quality: jpeg.DefaultQuality}, nil
}

// Filename is the name a sample is written to.
func Filename(s cyclegan.Sample) string { return fmt.Sprintf("%s_(%d).jpg", s.Direction, s.Step) }

// Encode writes a sample.
func (enc *Encoder) Encode(s cyclegan.Sample) error {
	path := filepath.Join(enc.Dir, Filename(s))
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if err = jpeg.Encode(f, s.Image, &jpeg.Options{Quality: enc.Quality}); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %s", path)
	}
	return errors.WithStack(f.Close())
}

// Flush is a no-op: every sample is written when it is encoded.
func (enc *Encoder) Flush() error { return nil }
