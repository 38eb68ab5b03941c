package dataset

import (
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gorgonia.org/tensor"
)

// Transform turns a decoded image into a normalized C×H×W tensor.
type Transform struct {
	Height, Width int     // target size. 0×0 keeps the size of the source
	FlipProb      float64 // probability of a horizontal flip
	Joint         bool    // flip both images of a pair with the same draw
}

func (t Transform) Validate() error {
	if t.Height < 0 || t.Width < 0 || (t.Height == 0) != (t.Width == 0) {
		return errors.Errorf("invalid target size %d×%d", t.Height, t.Width)
	}
	if t.FlipProb < 0 || t.FlipProb > 1 {
		return errors.Errorf("flip probability %v is not in [0, 1]", t.FlipProb)
	}
	return nil
}

// Pair transforms one image of each domain.
func (t Transform) Pair(a, b image.Image, r *rand.Rand) Pair {
	flipA := t.flip(r)
	flipB := flipA
	if !t.Joint {
		flipB = t.flip(r)
	}
	return Pair{A: t.apply(a, flipA), B: t.apply(b, flipB)}
}

// Single transforms an image without flipping it.
func (t Transform) Single(img image.Image) *tensor.Dense { return t.apply(img, false) }

func (t Transform) flip(r *rand.Rand) bool {
	if r == nil || t.FlipProb == 0 {
		return false
	}
	return r.Float64() < t.FlipProb
}

func (t Transform) apply(img image.Image, flip bool) *tensor.Dense {
	rgb := t.resize(img)
	if flip {
		mirror(rgb)
	}
	return ToTensor(rgb)
}

// resize draws img into a non-premultiplied image, so translucent pixels keep their
// colour and the alpha channel is simply dropped later.
func (t Transform) resize(img image.Image) *image.NRGBA {
	src := img.Bounds()
	h, w := t.Height, t.Width
	if h == 0 {
		h, w = src.Dy(), src.Dx()
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if src.Dx() == w && src.Dy() == h {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
		return dst
	}
	draw.BiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}

func mirror(img *image.NRGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i, j := 0, len(row)-4; i < j; i, j = i+4, j-4 {
			for k := 0; k < 4; k++ {
				row[i+k], row[j+k] = row[j+k], row[i+k]
			}
		}
	}
}

// Decode reads the image at path in any registered format.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return img, nil
}

// ToTensor converts img to a 3×H×W tensor normalized with mean 0.5 and std 0.5. Alpha is
// dropped without compositing.
func ToTensor(img image.Image) *tensor.Dense {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	plane := h * w
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := y*w + x
			data[i] = normalize(c.R)
			data[plane+i] = normalize(c.G)
			data[2*plane+i] = normalize(c.B)
		}
	}
	return tensor.New(tensor.WithShape(3, h, w), tensor.WithBacking(data))
}

func normalize(v uint8) float32 { return (float32(v)/255 - 0.5) / 0.5 }

// ToImage denormalizes a C×H×W tensor with 1 or 3 channels into an image. The images
// of a B×C×H×W tensor are laid out side by side.
func ToImage(t *tensor.Dense) (*image.RGBA, error) {
	s := t.Shape()
	b := 1
	if s.Dims() == 4 {
		b, s = s[0], s[1:]
	}
	if s.Dims() != 3 || b < 1 || (s[0] != 1 && s[0] != 3) {
		return nil, errors.Errorf("cannot convert a tensor of shape %v to an image", t.Shape())
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("cannot convert %v to an image", t.Dtype())
	}
	c, h, w := s[0], s[1], s[2]
	plane := h * w
	img := image.NewRGBA(image.Rect(0, 0, b*w, h))
	for k := 0; k < b; k++ {
		off := k * c * plane
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := off + y*w + x
				r := denormalize(data[i])
				g, bl := r, r
				if c == 3 {
					g = denormalize(data[plane+i])
					bl = denormalize(data[2*plane+i])
				}
				img.SetRGBA(k*w+x, y, color.RGBA{R: r, G: g, B: bl, A: 255})
			}
		}
	}
	return img, nil
}

func denormalize(v float32) uint8 {
	v = v*0.5 + 0.5
	if math32.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(math32.Round(v * 255))
}
