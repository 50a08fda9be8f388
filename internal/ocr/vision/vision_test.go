package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/home-inventory/internal/ocr"
)

func TestVision(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Vision Suite")
}

var _ = Describe("parseLinesJSON", func() {
	var (
		input string
		raw   *ocr.Raw
		err   error
	)

	JustBeforeEach(func() {
		raw, err = parseLinesJSON(input)
	})

	When("parsing valid JSON", func() {
		BeforeEach(func() {
			input = `{"lines": [
				{"text": "WALMART", "confidence": 0.97, "box": {"x": 10, "y": 5, "width": 100, "height": 20}},
				{"text": "GV BRD WHEAT 2.99", "confidence": 0.9, "box": {"x": 10, "y": 40, "width": 200, "height": 20}}
			]}`
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should keep the line order", func() {
			Expect(raw.Lines).To(HaveLen(2))
			Expect(raw.Lines[0].Text).To(Equal("WALMART"))
			Expect(raw.Lines[1].Text).To(Equal("GV BRD WHEAT 2.99"))
		})

		It("should read boxes and confidences", func() {
			Expect(raw.Lines[0].Confidence).To(Equal(0.97))
			Expect(raw.Lines[1].Box).To(Equal(ocr.Box{X: 10, Y: 40, Width: 200, Height: 20}))
		})
	})

	When("parsing JSON wrapped in markdown code blocks", func() {
		BeforeEach(func() {
			input = "```json\n{\"lines\": [{\"text\": \"TOTAL 2.99\", \"confidence\": 0.8}]}\n```"
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should parse the line", func() {
			Expect(raw.Lines).To(HaveLen(1))
			Expect(raw.Lines[0].Text).To(Equal("TOTAL 2.99"))
		})
	})

	When("a line has no confidence", func() {
		BeforeEach(func() {
			input = `{"lines": [{"text": "COFFEE 4.99"}]}`
		})

		It("should use the default confidence", func() {
			Expect(raw.Lines[0].Confidence).To(Equal(defaultConfidence))
		})
	})

	When("lines are blank", func() {
		BeforeEach(func() {
			input = `{"lines": [{"text": "   ", "confidence": 0.9}, {"text": "MILK 3.49", "confidence": 0.9}]}`
		})

		It("should drop them", func() {
			Expect(raw.Lines).To(HaveLen(1))
			Expect(raw.Lines[0].Text).To(Equal("MILK 3.49"))
		})
	})

	When("the model found no text", func() {
		BeforeEach(func() {
			input = `{"lines": []}`
		})

		It("should return an empty result", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(raw.Lines).To(BeEmpty())
		})
	})

	When("parsing text with no JSON", func() {
		BeforeEach(func() {
			input = "I could not read this receipt"
		})

		It("should return an error", func() {
			Expect(err).To(MatchError(ContainSubstring("no JSON object found")))
		})
	})

	When("parsing malformed JSON", func() {
		BeforeEach(func() {
			input = `{"lines": [{"text": }`
		})

		It("should return an error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("imageFormat", func() {
	It("detects PNG", func() {
		Expect(imageFormat([]byte("\x89PNG\r\n\x1a\n0000"))).To(Equal("png"))
	})

	It("detects JPEG", func() {
		Expect(imageFormat([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0})).To(Equal("jpeg"))
	})

	It("falls back to PNG", func() {
		Expect(imageFormat([]byte("hello"))).To(Equal("png"))
	})
})

var _ = Describe("promptFor", func() {
	It("uses the base prompt for English", func() {
		Expect(promptFor(ocr.Options{Language: "eng"})).To(Equal(linePrompt))
	})

	It("adds a language hint otherwise", func() {
		Expect(promptFor(ocr.Options{Language: "deu"})).To(ContainSubstring("language code deu"))
	})
})

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		engine *Ollama
		raw    *ocr.Raw
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		engine, err = NewOllama(server.URL()+"/", "qwen2-vl:7b")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		raw, err = engine.Recognize(context.Background(), []byte("png-bytes"), ocr.DefaultOptions())
	})

	When("the server replies with lines", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					var req ollamaChatRequest
					Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
					Expect(req.Model).To(Equal("qwen2-vl:7b"))
					Expect(req.Format).To(Equal("json"))
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Images).To(HaveLen(1))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: `{"lines": [{"text": "WALMART", "confidence": 0.9}]}`},
					Done:    true,
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the lines", func() {
			Expect(raw.Lines).To(HaveLen(1))
			Expect(raw.Lines[0].Text).To(Equal("WALMART"))
		})

		It("is named ollama", func() {
			Expect(engine.Name()).To(Equal("ollama"))
		})
	})

	When("the server fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("should return an error with the status", func() {
			Expect(err).To(MatchError(ContainSubstring("status 500")))
		})
	})
})
