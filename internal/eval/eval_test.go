package eval_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	"github.com/zombor/home-inventory/internal/eval"
	"github.com/zombor/home-inventory/internal/ocr"
	"github.com/zombor/home-inventory/internal/preprocess"
)

func TestEval(t *testing.T) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Eval Suite")
}

type fakeRecognizer struct {
	lines []string
	err   error
	calls int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, image []byte, opts ocr.Options) (*ocr.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	lines := make([]ocr.Line, len(f.lines))
	for i, t := range f.lines {
		lines[i] = ocr.Line{Text: t, Confidence: 0.8, Box: ocr.Box{Y: 30 * i, Width: 200, Height: 20}}
	}
	return &ocr.Result{Lines: lines, OverallConfidence: 0.8, Engine: "fake"}, nil
}

func writeSample(dir, name, truth string) {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, image.NewGray(image.Rect(0, 0, 60, 40)))).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, name+".png"), buf.Bytes(), 0644)).To(Succeed())
	if truth != "" {
		Expect(os.WriteFile(filepath.Join(dir, name+".txt"), []byte(truth), 0644)).To(Succeed())
	}
}

var _ = Describe("metrics", func() {
	DescribeTable("WordErrorRate",
		func(truth, hyp string, expected float64) {
			Expect(eval.WordErrorRate(truth, hyp)).To(BeNumerically("~", expected, 1e-9))
		},
		Entry("identical ignoring case and layout", "TOTAL  2.99\n", "total 2.99", 0.0),
		Entry("one word missing", "milk 3.49 total", "milk 3.49", 1.0/3),
		Entry("empty truth and output", "", "", 0.0),
		Entry("text where none was expected", "", "ghost", 1.0),
	)

	DescribeTable("CharErrorRate",
		func(truth, hyp string, expected float64) {
			Expect(eval.CharErrorRate(truth, hyp)).To(BeNumerically("~", expected, 1e-9))
		},
		Entry("identical", "milk 3.49", "MILK 3.49", 0.0),
		Entry("one substitution", "abcd", "abxd", 0.25),
		Entry("garbled zero", "total", "t0tal", 0.2),
		Entry("empty truth and output", "", "", 0.0),
	)
})

var _ = Describe("LoadSamples", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		writeSample(dir, "walmart", "WALMART\nMILK 3.49\nTOTAL 3.49")
		writeSample(dir, "costco", "COSTCO\nTOTAL 9.99")
		writeSample(dir, "untranscribed", "")
		Expect(os.WriteFile(filepath.Join(dir, "notes.md"), []byte("ignore me"), 0644)).To(Succeed())
	})

	It("pairs images with transcriptions in name order", func() {
		samples, err := eval.LoadSamples(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(samples).To(HaveLen(2))
		Expect(samples[0].Name).To(Equal("costco"))
		Expect(samples[1].Name).To(Equal("walmart"))
		Expect(samples[1].ContentType).To(Equal("image/png"))
		Expect(samples[1].Truth).To(ContainSubstring("MILK 3.49"))
	})

	It("fails for a missing directory", func() {
		_, err := eval.LoadSamples(filepath.Join(dir, "missing"))
		Expect(err).To(MatchError(ContainSubstring("reading sample directory")))
	})
})

var _ = Describe("Evaluator", func() {
	var (
		recognizer *fakeRecognizer
		samples    []eval.Sample
		report     *eval.Report
		err        error
	)

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		writeSample(dir, "walmart", "WALMART\nMILK 3.49\nTOTAL 3.49")
		samples, err = eval.LoadSamples(dir)
		Expect(err).NotTo(HaveOccurred())
		recognizer = &fakeRecognizer{lines: []string{"WALMART", "MILK 3.49", "TOTAL 3.49"}}
	})

	JustBeforeEach(func() {
		report, err = eval.New(recognizer, ocr.DefaultOptions()).Run(context.Background(), samples)
	})

	When("OCR reads the text perfectly", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("measures every level", func() {
			Expect(report.Levels).To(HaveLen(3))
			Expect(report.Levels[0].Level).To(Equal(preprocess.LevelNone))
			Expect(recognizer.calls).To(Equal(3))
		})

		It("scores zero error", func() {
			for _, lr := range report.Levels {
				Expect(lr.MeanWER).To(BeZero())
				Expect(lr.MeanCER).To(BeZero())
				Expect(lr.MeanConfidence).To(BeNumerically("~", 0.8, 1e-9))
				Expect(lr.Samples[0].Items).To(Equal(1))
			}
		})

		It("prefers the first level on a tie", func() {
			Expect(report.Best).To(Equal(preprocess.LevelNone))
		})

		It("writes a YAML report", func() {
			var buf bytes.Buffer
			Expect(report.WriteYAML(&buf)).To(Succeed())

			var decoded map[string]any
			Expect(yaml.Unmarshal(buf.Bytes(), &decoded)).To(Succeed())
			Expect(decoded).To(HaveKeyWithValue("best_level", "none"))
			Expect(decoded).To(HaveKeyWithValue("sample_count", 1))
		})
	})

	When("OCR fails", func() {
		BeforeEach(func() {
			recognizer.err = errors.New("engine down")
		})

		It("counts every sample as a miss", func() {
			Expect(err).NotTo(HaveOccurred())
			for _, lr := range report.Levels {
				Expect(lr.Failures).To(Equal(1))
				Expect(lr.MeanWER).To(Equal(1.0))
				Expect(lr.Samples[0].Error).To(ContainSubstring("engine down"))
			}
		})
	})

	When("there are no samples", func() {
		BeforeEach(func() {
			samples = nil
		})

		It("returns an error", func() {
			Expect(err).To(MatchError(ContainSubstring("no samples")))
		})
	})
})
