package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// OCRPage is one page of OCR output.
type OCRPage struct {
	Page     int
	Text     string
	AvgScore float64
}

// OCRRunner recognizes text in a PDF that the native parser cannot read,
// typically scanned pages.
type OCRRunner interface {
	RecognizePages(ctx context.Context, pdfPath string) ([]OCRPage, error)
}

// Extractor pulls text out of a PDF. Native extraction runs first; pages that
// come back too short to be real text trigger the OCR fallback, and per page
// the longer of the two results wins.
type Extractor struct {
	ocr          OCRRunner
	minPageRunes int
	nativePages  func(path string) ([]string, error)
}

// NewExtractor builds an Extractor. ocr may be nil to disable the fallback.
// minPageRunes is the per-page length below which a page counts as unreadable.
func NewExtractor(ocr OCRRunner, minPageRunes int) *Extractor {
	if minPageRunes <= 0 {
		minPageRunes = 50
	}
	return &Extractor{
		ocr:          ocr,
		minPageRunes: minPageRunes,
		nativePages:  nativePDFPages,
	}
}

// ExtractText returns the document text with "[Page N]:" markers so downstream
// prompts can reference page positions.
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	pages, nativeErr := e.nativePages(path)
	for i := range pages {
		pages[i] = sanitizeText(pages[i])
	}

	if e.needsOCR(pages, nativeErr) && e.ocr != nil {
		ocrPages, err := e.ocr.RecognizePages(ctx, path)
		if err != nil && len(pages) == 0 {
			return "", fmt.Errorf("ocr fallback: %w", err)
		}
		pages = mergeOCRPages(pages, ocrPages)
	} else if nativeErr != nil {
		return "", fmt.Errorf("parse pdf: %w", nativeErr)
	}

	var b strings.Builder
	empty := true
	for i, text := range pages {
		if text == "" {
			continue
		}
		if !empty {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Page %d]: %s", i+1, text)
		empty = false
	}
	if empty {
		return "", fmt.Errorf("no text extracted from pdf")
	}
	return b.String(), nil
}

func (e *Extractor) needsOCR(pages []string, nativeErr error) bool {
	if nativeErr != nil || len(pages) == 0 {
		return true
	}
	for _, text := range pages {
		if len([]rune(text)) < e.minPageRunes {
			return true
		}
	}
	return false
}

// mergeOCRPages overlays OCR output on native pages, keeping whichever text
// is longer for each page.
func mergeOCRPages(native []string, ocr []OCRPage) []string {
	pages := native
	for _, p := range ocr {
		if p.Page < 1 {
			continue
		}
		for len(pages) < p.Page {
			pages = append(pages, "")
		}
		text := sanitizeText(p.Text)
		if len([]rune(text)) > len([]rune(pages[p.Page-1])) {
			pages[p.Page-1] = text
		}
	}
	return pages
}

// nativePDFPages extracts per-page plain text with the Go PDF library.
// Problematic pages yield an empty string instead of failing the document.
func nativePDFPages(path string) ([]string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	totalPages := reader.NumPage()
	pages := make([]string, totalPages)
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}

func sanitizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}
