package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// CommandOCR shells out to an external OCR tool (a PaddleOCR wrapper) that
// prints recognition results as JSON on stdout. The PDF path is appended as
// the last argument.
type CommandOCR struct {
	command []string
	timeout time.Duration
}

func NewCommandOCR(command []string, timeout time.Duration) (*CommandOCR, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("ocr command required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CommandOCR{command: command, timeout: timeout}, nil
}

func (c *CommandOCR) RecognizePages(ctx context.Context, pdfPath string) ([]OCRPage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append(append([]string(nil), c.command[1:]...), pdfPath)
	cmd := exec.CommandContext(ctx, c.command[0], args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ocr command failed: %w", err)
	}
	return parsePaddleOCRJSON(output)
}

type paddleOCRResult struct {
	OCRResults []struct {
		PageIndex    int `json:"page_index"`
		PrunedResult struct {
			RecTexts  []string  `json:"rec_texts"`
			RecScores []float64 `json:"rec_scores"`
		} `json:"prunedResult"`
	} `json:"ocrResults"`
	Result struct {
		RecTexts  []string  `json:"rec_texts"`
		RecScores []float64 `json:"rec_scores"`
	} `json:"result"`
}

// parsePaddleOCRJSON decodes PaddleOCR server output. Multi-page responses
// carry per-page results under ocrResults; single-page responses put one
// result object at the top level.
func parsePaddleOCRJSON(raw []byte) ([]OCRPage, error) {
	var decoded paddleOCRResult
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("parse ocr output: %w", err)
	}

	if len(decoded.OCRResults) > 0 {
		pages := make([]OCRPage, 0, len(decoded.OCRResults))
		for _, res := range decoded.OCRResults {
			pages = append(pages, OCRPage{
				Page:     res.PageIndex + 1,
				Text:     strings.Join(res.PrunedResult.RecTexts, "\n"),
				AvgScore: avgScore(res.PrunedResult.RecScores),
			})
		}
		sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })
		return pages, nil
	}

	if len(decoded.Result.RecTexts) > 0 {
		return []OCRPage{{
			Page:     1,
			Text:     strings.Join(decoded.Result.RecTexts, "\n"),
			AvgScore: avgScore(decoded.Result.RecScores),
		}}, nil
	}

	return nil, fmt.Errorf("ocr output contained no recognized text")
}

func avgScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}
