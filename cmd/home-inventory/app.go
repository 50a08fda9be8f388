package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/home-inventory/internal/ocr"
	"github.com/zombor/home-inventory/internal/ocr/tesseract"
	"github.com/zombor/home-inventory/internal/ocr/vision"
	"github.com/zombor/home-inventory/internal/preprocess"
	"github.com/zombor/home-inventory/internal/receipt"
	"github.com/zombor/home-inventory/internal/worker"
)

// app holds the global flags and the resources opened for a command
type app struct {
	out   io.Writer
	flags *ff.FlagSet

	dbPath      *string
	storagePath *string
	imageTTL    *time.Duration
	engineName  *string
	language    *string
	psm         *string
	oem         *string
	ocrTimeout  *time.Duration
	level       *string
	workers     *int
	tessdata    *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
	logLevel    *string
	logFormat   *string

	db     *receipt.BoltDB
	engine ocr.Engine
}

func newApp(out io.Writer) *app {
	fs := ff.NewFlagSet("home-inventory")
	a := &app{
		out:         out,
		flags:       fs,
		dbPath:      fs.StringLong("db", "home-inventory.db", "Database file path"),
		storagePath: fs.StringLong("storage", "./receipt-images", "Temporary receipt image directory"),
		imageTTL:    fs.DurationLong("image-ttl", receipt.DefaultImageTTL, "How long receipt images are kept"),
		engineName:  fs.StringLong("engine", "tesseract", "OCR engine: tesseract, gemini or ollama"),
		language:    fs.StringLong("language", "eng", "OCR language code"),
		psm:         fs.StringLong("psm", string(ocr.PSMRawLine), "Page segmentation: auto, single_column, single_block, sparse_text, raw_line"),
		oem:         fs.StringLong("oem", string(ocr.OEMDefault), "Engine mode: default, lstm, legacy, combined"),
		ocrTimeout:  fs.DurationLong("ocr-timeout", ocr.DefaultTimeout, "Upper bound on one OCR call"),
		level:       fs.StringLong("preprocess", string(preprocess.DefaultLevel), "Preprocessing level: none, quick, full"),
		workers:     fs.IntLong("workers", 0, "OCR worker count (0 uses the CPU count)"),
		tessdata:    fs.StringLong("tessdata", "", "Tesseract tessdata directory (optional)"),
		geminiKey:   fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:   fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: fs.StringLong("ollama-model", "qwen2-vl:7b", "Ollama vision model name"),
		logLevel:    fs.StringLong("log-level", "info", "Log level: debug, info, warn, error"),
		logFormat:   fs.StringLong("log-format", "text", "Log format: text or json"),
	}
	fs.StringLong("config", "", "Config file (optional)")
	fs.BoolLong("version", "Show version information")
	return a
}

// ocrOptions validates the OCR flags
func (a *app) ocrOptions() (ocr.Options, error) {
	psm, err := ocr.ParsePageSegMode(*a.psm)
	if err != nil {
		return ocr.Options{}, err
	}
	oem, err := ocr.ParseEngineMode(*a.oem)
	if err != nil {
		return ocr.Options{}, err
	}
	return ocr.Options{PageSegMode: psm, EngineMode: oem, Language: *a.language}, nil
}

// openEngine initializes the OCR engine selected by --engine
func (a *app) openEngine() (ocr.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}

	var (
		engine ocr.Engine
		err    error
	)
	switch *a.engineName {
	case "tesseract":
		slog.Info("Initializing tesseract...", "language", *a.language)
		engine = tesseract.New(tesseract.WithTessdataPrefix(*a.tessdata))
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *a.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini...", "model", *a.geminiModel)
		engine, err = vision.NewGemini(apiKey, *a.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama...", "url", *a.ollamaURL, "model", *a.ollamaModel)
		engine, err = vision.NewOllama(*a.ollamaURL, *a.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid engine %q (valid: tesseract, gemini, ollama)", *a.engineName)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s: %w", *a.engineName, err)
	}
	a.engine = engine
	return engine, nil
}

// service opens the database and storage. The OCR engine is only started
// when withOCR is set; commands that never recognize leave it nil.
func (a *app) service(withOCR bool) (*receipt.Service, error) {
	opts, err := a.ocrOptions()
	if err != nil {
		return nil, err
	}

	if a.db == nil {
		slog.Debug("Opening database", "path", *a.dbPath)
		db, err := receipt.NewBoltDB(*a.dbPath)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		a.db = db
	}

	store, err := receipt.NewLocalStorage(*a.storagePath)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	var recognizer receipt.Recognizer
	if withOCR {
		engine, err := a.openEngine()
		if err != nil {
			return nil, err
		}
		recognizer = ocr.NewRecognizer(engine, *a.ocrTimeout)
	}

	return receipt.NewService(a.db, recognizer, store, receipt.Config{
		OCR:      opts,
		ImageTTL: *a.imageTTL,
	}), nil
}

// processor wraps the service in a worker pool
func (a *app) processor(svc *receipt.Service) *receipt.Processor {
	return receipt.NewProcessor(svc, worker.NewPool(*a.workers))
}

func (a *app) preprocessLevel(flag string) (preprocess.Level, error) {
	if flag == "" {
		flag = *a.level
	}
	return preprocess.ParseLevel(flag)
}

func (a *app) close() {
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			slog.Warn("Failed to close OCR engine", "error", err)
		}
		a.engine = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
		a.db = nil
	}
}
