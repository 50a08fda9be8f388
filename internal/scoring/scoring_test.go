package scoring

import (
	"math"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/home-inventory/internal/ocr"
	"github.com/zombor/home-inventory/internal/parser"
)

func TestScoring(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scoring Suite")
}

var _ = Describe("Score", func() {
	var (
		candidate parser.Candidate
		line      ocr.Line
		score     float64
	)

	BeforeEach(func() {
		candidate = parser.Candidate{}
		line = ocr.Line{
			Text:       "GV BRD WHEAT 2.99",
			Confidence: 0.9,
			Words: []ocr.Word{
				{Text: "GV", Confidence: 0.4},
				{Text: "BRD", Confidence: 0.5},
				{Text: "WHEAT", Confidence: 0.6},
				{Text: "2.99", Confidence: 0.5},
			},
		}
	})

	JustBeforeEach(func() {
		score = Score(candidate, line)
	})

	When("no structural signal is present", func() {
		It("should equal the mean word confidence", func() {
			Expect(score).To(BeNumerically("~", 0.5, 1e-9))
		})
	})

	When("a price was detected", func() {
		BeforeEach(func() {
			candidate.PriceDetected = true
		})

		It("should add the price bonus", func() {
			Expect(score).To(BeNumerically("~", 0.65, 1e-9))
		})
	})

	When("every signal is present", func() {
		BeforeEach(func() {
			candidate.PriceDetected = true
			candidate.QuantityDetected = true
			candidate.InItemRegion = true
		})

		It("should add all bonuses", func() {
			Expect(score).To(BeNumerically("~", 0.85, 1e-9))
		})
	})

	When("the line has no words", func() {
		BeforeEach(func() {
			line.Words = nil
			candidate.InItemRegion = true
		})

		It("should fall back to the line confidence", func() {
			Expect(score).To(BeNumerically("~", 1.0, 1e-9))
		})
	})

	When("the bonuses would push the score above one", func() {
		BeforeEach(func() {
			for i := range line.Words {
				line.Words[i].Confidence = 0.95
			}
			candidate.PriceDetected = true
			candidate.QuantityDetected = true
			candidate.InItemRegion = true
		})

		It("should clamp to one", func() {
			Expect(score).To(Equal(1.0))
		})
	})

	When("the OCR confidence is invalid", func() {
		BeforeEach(func() {
			line.Words = nil
			line.Confidence = math.NaN()
		})

		It("should treat it as zero", func() {
			Expect(score).To(Equal(0.0))
		})
	})

	It("is a pure function of its inputs", func() {
		candidate.PriceDetected = true
		first := Score(candidate, line)
		second := Score(candidate, line)
		Expect(second).To(Equal(first))
	})
})

var _ = Describe("Score bounds", func() {
	It("stays within [0,1] for any confidence and signal mix", func() {
		for _, conf := range []float64{-5, -0.1, 0, 0.3, 0.79, 1, 1.5, 99} {
			for mask := 0; mask < 8; mask++ {
				c := parser.Candidate{
					PriceDetected:    mask&1 != 0,
					QuantityDetected: mask&2 != 0,
					InItemRegion:     mask&4 != 0,
				}
				s := Score(c, ocr.Line{Confidence: conf, Words: []ocr.Word{{Text: "A", Confidence: conf}}})
				Expect(s).To(BeNumerically(">=", 0))
				Expect(s).To(BeNumerically("<=", 1))
			}
		}
	})
})

var _ = Describe("BucketFor", func() {
	DescribeTable("boundaries",
		func(confidence float64, expected Bucket) {
			Expect(BucketFor(confidence)).To(Equal(expected))
		},
		Entry("zero", 0.0, BucketLow),
		Entry("just below medium", 0.4999, BucketLow),
		Entry("medium lower bound", 0.5, BucketMedium),
		Entry("top of medium", 0.79, BucketMedium),
		Entry("just below high", 0.7999, BucketMedium),
		Entry("high lower bound", 0.8, BucketHigh),
		Entry("one", 1.0, BucketHigh),
	)
})

var _ = Describe("Overall", func() {
	It("averages item scores", func() {
		Expect(Overall([]float64{0.5, 0.7, 0.9}, 0.1)).To(BeNumerically("~", 0.7, 1e-9))
	})

	It("falls back to the OCR confidence with no items", func() {
		Expect(Overall(nil, 0.03)).To(BeNumerically("~", 0.03, 1e-9))
	})
})
