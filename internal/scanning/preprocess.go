package scanning

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
)

// PreprocessOptions tunes the image cleanup done before OCR
type PreprocessOptions struct {
	Contrast    float64 // contrast enhancement factor, 1 keeps the image unchanged
	Sharpness   float64 // sharpness enhancement factor, 1 keeps the image unchanged
	BlurKernel  int     // Gaussian blur kernel size, 3 or 5
	BlockSize   int     // adaptive threshold neighbourhood, odd and > 1
	ThresholdC  float64 // constant subtracted from the local mean
	MorphKernel int     // square structuring element for close/open, >= 1
}

// DefaultPreprocessOptions returns the settings tuned for receipt photos
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		Contrast:    1.5,
		Sharpness:   2.0,
		BlurKernel:  5,
		BlockSize:   11,
		ThresholdC:  2,
		MorphKernel: 1,
	}
}

func (o PreprocessOptions) validate() error {
	if o.BlurKernel != 3 && o.BlurKernel != 5 {
		return fmt.Errorf("blur kernel must be 3 or 5, got %d", o.BlurKernel)
	}
	if o.BlockSize < 3 || o.BlockSize%2 == 0 {
		return fmt.Errorf("threshold block size must be odd and > 1, got %d", o.BlockSize)
	}
	if o.MorphKernel < 1 {
		return fmt.Errorf("morphology kernel must be >= 1, got %d", o.MorphKernel)
	}
	return nil
}

// Preprocessor turns a receipt photo into a binarized single-channel image
type Preprocessor struct {
	opts PreprocessOptions
}

// NewPreprocessor creates a Preprocessor with the given options
func NewPreprocessor(opts PreprocessOptions) *Preprocessor {
	return &Preprocessor{opts: opts}
}

// ProcessFile preprocesses the image stored at path
func (p *Preprocessor) ProcessFile(path string) (*image.Gray, bool, error) {
	data, contentType, err := readImageFile(path)
	if err != nil {
		return nil, false, err
	}
	return p.Process(data, contentType)
}

// Process enhances, denoises and binarizes an encoded image. When any step
// fails it falls back to a plain grayscale decode and reports degraded=true.
// An error is returned only when the image cannot be decoded at all.
func (p *Preprocessor) Process(data []byte, contentType string) (img *image.Gray, degraded bool, err error) {
	img, err = p.enhance(data, contentType)
	if err == nil {
		return img, false, nil
	}

	slog.Error("Error preprocessing image", "error", err)
	src, decodeErr := decodeImage(data, contentType)
	if decodeErr != nil {
		return nil, true, fmt.Errorf("decoding image: %w", decodeErr)
	}
	return toGray(imaging.Grayscale(src)), true, nil
}

func (p *Preprocessor) enhance(data []byte, contentType string) (img *image.Gray, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("preprocessing panic: %v", r)
		}
	}()

	if err := p.opts.validate(); err != nil {
		return nil, err
	}

	src, err := decodeImage(data, contentType)
	if err != nil {
		return nil, err
	}
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("image has no pixels")
	}

	rgba := imaging.Clone(src)
	rgba = enhanceContrast(rgba, p.opts.Contrast)
	rgba = enhanceSharpness(rgba, p.opts.Sharpness)

	gray := imaging.Grayscale(rgba)
	if p.opts.BlurKernel == 3 {
		gray = imaging.Convolve3x3(gray, gaussianKernel3(), &imaging.ConvolveOptions{Normalize: true})
	} else {
		gray = imaging.Convolve5x5(gray, gaussianKernel5(), &imaging.ConvolveOptions{Normalize: true})
	}

	bin := adaptiveThreshold(toGray(gray), p.opts.BlockSize, p.opts.ThresholdC)
	bin = morphOpen(morphClose(bin, p.opts.MorphKernel), p.opts.MorphKernel)
	return bin, nil
}

// enhanceContrast scales each channel away from the mean luminance
func enhanceContrast(img *image.NRGBA, factor float64) *image.NRGBA {
	var sum float64
	n := 0
	for i := 0; i+3 < len(img.Pix); i += 4 {
		sum += luminance(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
		n++
	}
	if n == 0 {
		return img
	}
	mean := math.Round(sum / float64(n))

	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: blend(mean, float64(c.R), factor),
			G: blend(mean, float64(c.G), factor),
			B: blend(mean, float64(c.B), factor),
			A: c.A,
		}
	})
}

// enhanceSharpness extrapolates away from a smoothed copy of the image
func enhanceSharpness(img *image.NRGBA, factor float64) *image.NRGBA {
	smooth := imaging.Convolve3x3(img, [9]float64{
		1, 1, 1,
		1, 5, 1,
		1, 1, 1,
	}, &imaging.ConvolveOptions{Normalize: true})

	out := image.NewNRGBA(img.Rect)
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			out.Pix[i+c] = blend(float64(smooth.Pix[i+c]), float64(img.Pix[i+c]), factor)
		}
		out.Pix[i+3] = img.Pix[i+3]
	}
	return out
}

// blend returns base + factor*(v-base), clipped to a byte
func blend(base, v, factor float64) uint8 {
	return clampByte(base + factor*(v-base))
}

func luminance(r, g, b uint8) float64 {
	return (299*float64(r) + 587*float64(g) + 114*float64(b)) / 1000
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// toGray copies the red channel of an already gray NRGBA image
func toGray(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = img.Pix[y*img.Stride+x*4]
		}
	}
	return out
}

// gaussianSigma derives sigma from the kernel size the way OpenCV does when
// no sigma is given
func gaussianSigma(ksize int) float64 {
	return 0.3*(float64(ksize-1)*0.5-1) + 0.8
}

func gaussian1D(ksize int) []float64 {
	sigma := gaussianSigma(ksize)
	half := ksize / 2
	k := make([]float64, ksize)
	var sum float64
	for i := range k {
		d := float64(i - half)
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func gaussianKernel3() [9]float64 {
	var k [9]float64
	g := gaussian1D(3)
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			k[y*3+x] = g[y] * g[x]
		}
	}
	return k
}

func gaussianKernel5() [25]float64 {
	var k [25]float64
	g := gaussian1D(5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			k[y*5+x] = g[y] * g[x]
		}
	}
	return k
}

// adaptiveThreshold binarizes against a Gaussian-weighted local mean:
// a pixel becomes white when it is brighter than mean-c.
func adaptiveThreshold(src *image.Gray, blockSize int, c float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	g := gaussian1D(blockSize)
	half := blockSize / 2

	// horizontal pass
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			var acc float64
			for k := -half; k <= half; k++ {
				acc += g[k+half] * float64(row[clampInt(x+k, 0, w-1)])
			}
			tmp[y*w+x] = acc
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var mean float64
			for k := -half; k <= half; k++ {
				mean += g[k+half] * tmp[clampInt(y+k, 0, h-1)*w+x]
			}
			if float64(src.Pix[y*src.Stride+x]) > math.Round(mean)-c {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

// morphClose fills small dark gaps: dilate then erode
func morphClose(img *image.Gray, k int) *image.Gray {
	return erode(dilate(img, k), k)
}

// morphOpen removes small bright specks: erode then dilate
func morphOpen(img *image.Gray, k int) *image.Gray {
	return dilate(erode(img, k), k)
}

func dilate(img *image.Gray, k int) *image.Gray {
	return morph(img, k, func(a, b uint8) bool { return b > a })
}

func erode(img *image.Gray, k int) *image.Gray {
	return morph(img, k, func(a, b uint8) bool { return b < a })
}

// morph replaces each pixel with the extreme of its k×k neighbourhood,
// where better(cur, cand) decides whether cand replaces cur
func morph(img *image.Gray, k int, better func(a, b uint8) bool) *image.Gray {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if k <= 1 {
		for y := 0; y < h; y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+w], img.Pix[y*img.Stride:y*img.Stride+w])
		}
		return out
	}

	half := k / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := img.Pix[y*img.Stride+x]
			for dy := -half; dy <= half; dy++ {
				for dx := -half; dx <= half; dx++ {
					cand := img.Pix[clampInt(y+dy, 0, h-1)*img.Stride+clampInt(x+dx, 0, w-1)]
					if better(v, cand) {
						v = cand
					}
				}
			}
			out.Pix[y*out.Stride+x] = v
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
