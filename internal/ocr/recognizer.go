package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/home-inventory/internal/apperrors"
)

const (
	// DefaultTimeout bounds every recognition call
	DefaultTimeout = 30 * time.Second
	// NoTextThreshold is the overall confidence below which a result counts
	// as no text detected
	NoTextThreshold = 0.10
)

// Recognizer runs an Engine with a hard wall-clock bound and validates its
// output into ordered lines.
type Recognizer struct {
	engine  Engine
	timeout time.Duration
}

// NewRecognizer wraps engine. A non-positive timeout uses DefaultTimeout.
func NewRecognizer(engine Engine, timeout time.Duration) *Recognizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Recognizer{engine: engine, timeout: timeout}
}

// Timeout returns the bound applied to each call
func (r *Recognizer) Timeout() time.Duration {
	return r.timeout
}

type recognition struct {
	raw *Raw
	err error
}

// Recognize runs OCR over image. An empty or near-zero confidence result is
// returned with NoTextDetected set rather than as an error.
func (r *Recognizer) Recognize(ctx context.Context, image []byte, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Engines such as tesseract can't be interrupted mid-page; the buffered
	// channel lets the goroutine finish and exit after we stop waiting.
	done := make(chan recognition, 1)
	go func() {
		raw, err := r.engine.Recognize(ctx, image, opts)
		done <- recognition{raw: raw, err: err}
	}()

	var rec recognition
	select {
	case rec = <-done:
	case <-ctx.Done():
		rec.err = ctx.Err()
	}

	if rec.err != nil {
		return nil, r.classify(rec.err)
	}

	lines := Flatten(rec.raw)
	result := &Result{
		Lines:             lines,
		OverallConfidence: OverallConfidence(lines),
		Engine:            r.engine.Name(),
		Duration:          time.Since(start),
	}
	if len(lines) == 0 || result.OverallConfidence < NoTextThreshold {
		result.NoTextDetected = true
		slog.Warn("No text detected",
			"engine", result.Engine,
			"lines", len(lines),
			"confidence", result.OverallConfidence,
		)
	}
	return result, nil
}

func (r *Recognizer) classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.New(apperrors.KindTimeout,
			fmt.Sprintf("%s exceeded %s", r.engine.Name(), r.timeout), err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("recognition canceled: %w", err)
	case apperrors.KindOf(err) != "":
		return err
	}
	return apperrors.New(apperrors.KindEngineInitFailed,
		fmt.Sprintf("%s unavailable", r.engine.Name()), err)
}
