// Package gif animates the samples of each translation direction, one captioned frame
// per sample.
package gif

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/freetype/truetype"
	"github.com/gorgonia/cyclegan"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
)

var regular *truetype.Font

const (
	dpi             = 72.0
	fontsize        = 10.0
	lineheight      = 1.2
	dummyLongString = `Epoch 1000, Step 1000000`
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

// Encoder is a cyclegan.SampleEncoder. Samples are grouped by direction, and Flush
// writes one animated GIF per direction into Dir as <direction>.gif.
type Encoder struct {
	Dir   string
	Delay int // per frame, in 100ths of a second
	font.Drawer

	face       font.Face
	padH, padW int
	anims      map[string]*gif.GIF
	order      []string
}

// NewEncoder creates an encoder writing into dir.
func NewEncoder(dir string) *Encoder {
	return &Encoder{
		Dir:   dir,
		Delay: 50,
		padH:  4,
		padW:  4,
		Drawer: font.Drawer{
			Src: image.Black,
		},
		anims: make(map[string]*gif.GIF),
	}
}

// Encode adds a frame to the animation of the sample's direction.
func (enc *Encoder) Encode(s cyclegan.Sample) error {
	if enc.face == nil {
		// lazy init of the font
		enc.face = truetype.NewFace(regular, &truetype.Options{
			Size:    fontsize,
			DPI:     dpi,
			Hinting: font.HintingFull,
		})
		enc.Drawer.Face = enc.face
	}

	caption := []string{s.Direction, fmt.Sprintf("Epoch %d, Step %d", s.Epoch, s.Step)}
	dy := int(math.Ceil(fontsize * lineheight * dpi / 72))
	b := s.Image.Bounds()
	w := maxInt(b.Dx(), font.MeasureString(enc.face, dummyLongString).Ceil()+2*enc.padW)
	h := b.Dy() + len(caption)*dy + 2*enc.padH

	im := image.NewPaletted(image.Rect(0, 0, w, h), palette.Plan9)
	draw.Draw(im, im.Bounds(), image.White, image.Point{}, draw.Src)
	draw.FloydSteinberg.Draw(im, image.Rect(0, 0, b.Dx(), b.Dy()), s.Image, b.Min)

	enc.Dst = im
	y := b.Dy() + enc.padH
	for _, line := range caption {
		y += dy
		enc.Dot = fixed.P(enc.padW, y)
		enc.DrawString(line)
	}

	anim, ok := enc.anims[s.Direction]
	if !ok {
		anim = &gif.GIF{LoopCount: 0}
		enc.anims[s.Direction] = anim
		enc.order = append(enc.order, s.Direction)
	}
	if len(anim.Image) > 0 && !anim.Image[0].Bounds().Eq(im.Bounds()) {
		return errors.Errorf("%s: a %v frame cannot follow %v frames", s.Direction, im.Bounds(), anim.Image[0].Bounds())
	}
	anim.Image = append(anim.Image, im)
	anim.Delay = append(anim.Delay, enc.Delay)
	return nil
}

// Filename is the file the animation of a direction is written to.
func Filename(direction string) string { return direction + ".gif" }

// Flush writes the animations.
func (enc *Encoder) Flush() error {
	if err := os.MkdirAll(enc.Dir, 0755); err != nil {
		return errors.WithStack(err)
	}
	for _, dir := range enc.order {
		path := filepath.Join(enc.Dir, Filename(dir))
		f, err := os.Create(path)
		if err != nil {
			return errors.WithStack(err)
		}
		if err = gif.EncodeAll(f, enc.anims[dir]); err != nil {
			f.Close()
			return errors.Wrapf(err, "encoding %s", path)
		}
		if err = f.Close(); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
