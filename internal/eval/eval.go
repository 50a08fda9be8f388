// Package eval measures how readable receipts are to the OCR engine at
// each preprocessing level, against hand transcriptions.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/zombor/home-inventory/internal/ocr"
	"github.com/zombor/home-inventory/internal/parser"
	"github.com/zombor/home-inventory/internal/preprocess"
)

// Recognizer runs OCR over a preprocessed image
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, opts ocr.Options) (*ocr.Result, error)
}

// SampleScore is one sample at one level
type SampleScore struct {
	Name       string  `yaml:"name"`
	WER        float64 `yaml:"wer"`
	CER        float64 `yaml:"cer"`
	Confidence float64 `yaml:"confidence"`
	Items      int     `yaml:"items"`
	NoText     bool    `yaml:"no_text,omitempty"`
	Error      string  `yaml:"error,omitempty"`
}

// LevelReport aggregates the samples of one preprocessing level
type LevelReport struct {
	Level          preprocess.Level `yaml:"level"`
	MeanWER        float64          `yaml:"mean_wer"`
	MeanCER        float64          `yaml:"mean_cer"`
	MeanConfidence float64          `yaml:"mean_confidence"`
	Failures       int              `yaml:"failures"`
	Duration       time.Duration    `yaml:"duration"`
	Samples        []SampleScore    `yaml:"samples"`
}

// Report is the outcome of one evaluation run
type Report struct {
	GeneratedAt time.Time        `yaml:"generated_at"`
	SampleCount int              `yaml:"sample_count"`
	Best        preprocess.Level `yaml:"best_level"`
	Levels      []LevelReport    `yaml:"levels"`
}

// Evaluator runs samples through preprocessing and OCR
type Evaluator struct {
	recognizer Recognizer
	opts       ocr.Options
	levels     []preprocess.Level
}

// New creates an Evaluator. With no levels given, every level is measured.
func New(recognizer Recognizer, opts ocr.Options, levels ...preprocess.Level) *Evaluator {
	if len(levels) == 0 {
		levels = []preprocess.Level{preprocess.LevelNone, preprocess.LevelQuick, preprocess.LevelFull}
	}
	return &Evaluator{recognizer: recognizer, opts: opts, levels: levels}
}

// Run scores every sample at every level. A sample that fails counts as a
// complete miss (WER and CER of 1) so failures can't improve a level's mean.
func (e *Evaluator) Run(ctx context.Context, samples []Sample) (*Report, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples to evaluate")
	}

	images := make([][]byte, len(samples))
	for i, s := range samples {
		data, err := os.ReadFile(s.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("reading sample %s: %w", s.Name, err)
		}
		images[i] = data
	}

	report := &Report{GeneratedAt: time.Now().UTC(), SampleCount: len(samples)}
	for _, level := range e.levels {
		start := time.Now()
		lr := LevelReport{Level: level, Samples: make([]SampleScore, 0, len(samples))}
		for i, s := range samples {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			score := e.score(ctx, s, images[i], level)
			if score.Error != "" {
				lr.Failures++
			}
			lr.MeanWER += score.WER
			lr.MeanCER += score.CER
			lr.MeanConfidence += score.Confidence
			lr.Samples = append(lr.Samples, score)
		}
		n := float64(len(samples))
		lr.MeanWER /= n
		lr.MeanCER /= n
		lr.MeanConfidence /= n
		lr.Duration = time.Since(start)

		slog.Info("Evaluated level",
			"level", level,
			"wer", lr.MeanWER,
			"cer", lr.MeanCER,
			"failures", lr.Failures,
		)
		report.Levels = append(report.Levels, lr)
	}

	report.Best = report.Levels[0].Level
	best := report.Levels[0].MeanCER
	for _, lr := range report.Levels[1:] {
		if lr.MeanCER < best {
			best, report.Best = lr.MeanCER, lr.Level
		}
	}
	return report, nil
}

func (e *Evaluator) score(ctx context.Context, s Sample, data []byte, level preprocess.Level) SampleScore {
	score := SampleScore{Name: s.Name, WER: 1, CER: 1}

	image, err := preprocess.Preprocess(preprocess.RawImage{Data: data, MIMEType: s.ContentType}, level)
	if err != nil {
		score.Error = err.Error()
		return score
	}
	result, err := e.recognizer.Recognize(ctx, image.Data, e.opts)
	if err != nil {
		slog.Warn("Sample failed", "sample", s.Name, "level", level, "error", err)
		score.Error = err.Error()
		return score
	}

	text := result.RawText()
	score.WER = WordErrorRate(s.Truth, text)
	score.CER = CharErrorRate(s.Truth, text)
	score.Confidence = result.OverallConfidence
	score.NoText = result.NoTextDetected
	score.Items = len(parser.Parse(result.Lines).Items)
	return score
}
