// Package document extracts content from uploaded files so it can be handed
// to the realtime session: text for office documents, PDFs and plain text
// files, a decoded image for pictures.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	// Image decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// DefaultMaxTextBytes caps extracted text.
const DefaultMaxTextBytes = 60_000

// ErrUnsupported is returned for file types that cannot be extracted.
var ErrUnsupported = errors.New("document: unsupported file type")

// Kind classifies an upload.
type Kind string

const (
	KindImage      Kind = "image"
	KindPDF        Kind = "pdf"
	KindWord       Kind = "docx"
	KindPowerPoint Kind = "pptx"
	KindText       Kind = "text"
)

// Content is the result of an extraction. Exactly one of Text and Image is
// set.
type Content struct {
	Name      string
	Kind      Kind
	Text      string
	Image     image.Image
	Truncated bool
}

// Extractor converts uploads to Content.
type Extractor struct {
	// MaxTextBytes bounds Content.Text. Zero selects DefaultMaxTextBytes.
	MaxTextBytes int
}

// Detect classifies data by extension first and content sniffing second.
func Detect(name string, data []byte) (Kind, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return KindImage, nil
	case ".pdf":
		return KindPDF, nil
	case ".docx":
		return KindWord, nil
	case ".pptx":
		return KindPowerPoint, nil
	case ".txt", ".md", ".csv", ".json", ".log", ".yaml", ".yml":
		return KindText, nil
	}

	ct := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindImage, nil
	case ct == "application/pdf":
		return KindPDF, nil
	case strings.HasPrefix(ct, "text/"):
		return KindText, nil
	}
	return "", fmt.Errorf("%w: %s (%s)", ErrUnsupported, name, ct)
}

// Extract detects the kind of data and extracts its content.
func (e Extractor) Extract(name string, data []byte) (*Content, error) {
	kind, err := Detect(name, data)
	if err != nil {
		return nil, err
	}
	c := &Content{Name: name, Kind: kind}

	var text string
	switch kind {
	case KindImage:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("document: decode image %s: %w", name, err)
		}
		c.Image = img
		return c, nil
	case KindPDF:
		text, err = pdfText(data)
	case KindWord:
		text, err = docxText(data)
	case KindPowerPoint:
		text, err = pptxText(data)
	case KindText:
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupported, name)
		}
		text = string(data)
	}
	if err != nil {
		return nil, fmt.Errorf("document: extract %s: %w", name, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("document: %s contains no text", name)
	}
	c.Text, c.Truncated = truncate(text, e.maxText())
	return c, nil
}

func (e Extractor) maxText() int {
	if e.MaxTextBytes > 0 {
		return e.MaxTextBytes
	}
	return DefaultMaxTextBytes
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

// Prompt renders text content as a user turn for the model.
func (c *Content) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Voici le contenu du document %q", c.Name)
	if c.Truncated {
		b.WriteString(" (tronqué)")
	}
	b.WriteString(" :\n\n")
	b.WriteString(c.Text)
	return b.String()
}
