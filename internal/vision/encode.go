// Package vision samples screen or image frames and encodes them as small
// JPEG chunks for the realtime session.
package vision

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/MrWong99/uplink/pkg/provider/live"
	"golang.org/x/image/draw"
)

// Default sampling geometry.
const (
	DefaultWidth   = 640
	DefaultHeight  = 360
	DefaultQuality = 0.5
)

// Encoder scales frames into a fixed canvas and encodes them as JPEG.
type Encoder struct {
	// Width and Height of the output canvas. The source is stretched to fill
	// it, aspect ratio is not preserved.
	Width, Height int

	// Quality in (0, 1]; converted to the JPEG 1-100 scale.
	Quality float64
}

// DefaultEncoder returns the 640x360, quality 0.5 encoder.
func DefaultEncoder() Encoder {
	return Encoder{Width: DefaultWidth, Height: DefaultHeight, Quality: DefaultQuality}
}

func (e Encoder) jpegQuality() int {
	q := int(e.Quality*100 + 0.5)
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return q
}

// Scale draws src into a Width x Height canvas.
func (e Encoder) Scale(src image.Image) *image.RGBA {
	w, h := e.Width, e.Height
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// JPEG scales src and returns the encoded bytes.
func (e Encoder) JPEG(src image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, e.Scale(src), &jpeg.Options{Quality: e.jpegQuality()}); err != nil {
		return nil, fmt.Errorf("vision: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Chunk scales and encodes src as a base64 image/jpeg media chunk.
func (e Encoder) Chunk(src image.Image) (live.MediaChunk, error) {
	data, err := e.JPEG(src)
	if err != nil {
		return live.MediaChunk{}, err
	}
	return live.MediaChunk{
		MIMEType: live.MIMEJPEG,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}
