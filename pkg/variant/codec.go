package variant

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"sync"

	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
)

// Output format names. Fallback images keep the decoder name of their source.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
	FormatAVIF = "avif"
)

// Encoder settings applied on top of the requested quality.
const (
	webpQualityFactor = 0.95
	avifQualityFactor = 0.85
	webpMethod        = 6 // slowest, smallest
	avifSpeed         = 0 // maximum encoder effort
)

// MIMETypes maps output formats to the type advertised in <source> elements.
var MIMETypes = map[string]string{
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatWebP: "image/webp",
	FormatAVIF: "image/avif",
}

// Codec encodes an image at a 0-100 quality. How quality is interpreted is
// up to the codec.
type Codec interface {
	Encode(w io.Writer, img image.Image, quality int) error
}

// CodecFunc adapts a function to the Codec interface.
type CodecFunc func(w io.Writer, img image.Image, quality int) error

// Encode calls f.
func (f CodecFunc) Encode(w io.Writer, img image.Image, quality int) error { return f(w, img, quality) }

// Registry maps format names to codecs. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns a registry with the jpeg, png, webp and avif codecs.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	r.Register(FormatJPEG, CodecFunc(encodeJPEG))
	r.Register(FormatPNG, CodecFunc(encodePNG))
	r.Register(FormatWebP, CodecFunc(encodeWebP))
	r.Register(FormatAVIF, CodecFunc(encodeAVIF))
	return r
}

// Register sets the codec for format, replacing any previous one.
func (r *Registry) Register(format string, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[format] = c
}

// Lookup returns the codec for format.
func (r *Registry) Lookup(format string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[format]
	return c, ok
}

// WebPQuality is the webp encoder quality used for a requested quality.
func WebPQuality(q int) int { return int(math.Round(float64(q) * webpQualityFactor)) }

// AVIFQuality is the avif encoder quality used for a requested quality.
func AVIFQuality(q int) int { return int(math.Round(float64(q) * avifQualityFactor)) }

// PNGLevel derives a 0-9 compression effort from quality: higher quality
// means less compression effort.
func PNGLevel(q int) int { return int(math.Round(float64(100-q) / 100 * 9)) }

// pngCompression buckets a 0-9 level onto the levels image/png supports.
func pngCompression(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

func encodeJPEG(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: max(quality, 1)})
}

func encodePNG(w io.Writer, img image.Image, quality int) error {
	enc := png.Encoder{CompressionLevel: pngCompression(PNGLevel(quality))}
	return enc.Encode(w, img)
}

// encodeWebP and encodeAVIF receive the already-scaled format quality.
func encodeWebP(w io.Writer, img image.Image, quality int) error {
	return webp.Encode(w, img, webp.Options{Quality: quality, Method: webpMethod})
}

func encodeAVIF(w io.Writer, img image.Image, quality int) error {
	return avif.Encode(w, img, avif.Options{Quality: quality, QualityAlpha: quality, Speed: avifSpeed})
}
