package scanning

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements Scanner with the local Tesseract OCR engine.
//
// Tesseract and its language data must be installed on the system
// (e.g. apt-get install tesseract-ocr tesseract-ocr-eng). Extraction runs
// fully offline: the receipt text is recognized locally and the vendor,
// date and amount are recovered with line heuristics.
type Tesseract struct {
	language string
}

// NewTesseract creates a local OCR scanner. language is a Tesseract
// language code; it defaults to "eng".
func NewTesseract(language string) (*Tesseract, error) {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{language: language}, nil
}

// Scan runs OCR on the receipt and parses the recognized text.
func (t *Tesseract) Scan(ctx context.Context, imageData []byte, contentType string) (*ReceiptFields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pngData, _, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	pngData, err = preprocessForOCR(pngData)
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return nil, fmt.Errorf("setting OCR language: %w", err)
	}
	if err := client.SetImageFromBytes(pngData); err != nil {
		return nil, fmt.Errorf("setting OCR image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("running OCR: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text recognized in receipt")
	}

	return parseReceiptText(text), nil
}

// Close implements Scanner. Clients are per-call, nothing is held open.
func (t *Tesseract) Close() error {
	return nil
}

// ocrMinWidth is the width below which receipt photos are upscaled.
// Tesseract accuracy drops sharply on small phone crops.
const ocrMinWidth = 1200

// preprocessForOCR grayscales the image and upscales small inputs.
func preprocessForOCR(pngData []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("decoding image for OCR: %w", err)
	}

	img = imaging.Grayscale(img)
	if img.Bounds().Dx() < ocrMinWidth {
		img = imaging.Resize(img, ocrMinWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding image for OCR: %w", err)
	}
	return buf.Bytes(), nil
}
