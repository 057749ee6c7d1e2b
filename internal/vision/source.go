package vision

import (
	"fmt"
	"image"
	"os"

	// Decoders for FileSource.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// FrameSource yields the current frame of a display-like surface.
type FrameSource interface {
	// Frame returns the latest frame. A nil image or one with zero width
	// means no frame is available yet.
	Frame() (image.Image, error)

	// Close releases the surface.
	Close() error
}

// FileSource re-reads an image file on every Frame call. Point it at the
// output of a periodic screenshot tool to share a screen.
type FileSource struct {
	Path string
}

// Frame decodes the file. A missing file yields no frame rather than an
// error, since screenshot tools replace files non-atomically.
func (s FileSource) Frame() (image.Image, error) {
	f, err := os.Open(s.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vision: open frame: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("vision: decode frame %s: %w", s.Path, err)
	}
	return img, nil
}

// Close is a no-op.
func (FileSource) Close() error { return nil }

// StaticSource always returns the same image.
type StaticSource struct {
	Image image.Image
}

// Frame returns the fixed image.
func (s StaticSource) Frame() (image.Image, error) { return s.Image, nil }

// Close is a no-op.
func (StaticSource) Close() error { return nil }
