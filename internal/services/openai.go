package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/models"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrMissingAPIKey is returned when OCR is enabled without credentials
var ErrMissingAPIKey = eris.New("OPENAI_API_KEY is required for OCR")

const ocrSystemPrompt = `You transcribe text from event flyers and posters.
Return every line of readable text exactly as printed, top to bottom, one line per row.
Keep dates, times, prices, venue names and addresses verbatim.
Do not summarize, translate or add anything that is not printed on the image.

CRITICAL: You MUST respond with valid JSON only, in this exact shape:
{"text": "<transcribed lines separated by \n>", "confidence": <0-100 legibility estimate>}
If the image has no readable text respond with {"text": "", "confidence": 0}.`

// OpenAIOCR reads flyer text with a vision-capable chat model. It satisfies
// the extraction layer's OCR contract.
type OpenAIOCR struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewOpenAIOCR creates an OCR client from the OCR settings
func NewOpenAIOCR(cfg config.OCR, logger *zap.Logger) (*OpenAIOCR, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return NewOpenAIOCRWithClient(openai.NewClient(cfg.APIKey), cfg, logger), nil
}

// NewOpenAIOCRWithClient wraps an already configured client, e.g. one pointed at a test server
func NewOpenAIOCRWithClient(client *openai.Client, cfg config.OCR, logger *zap.Logger) *OpenAIOCR {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1500
	}
	return &OpenAIOCR{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.Named("ocr"),
	}
}

// Recognize transcribes the text printed on one image
func (o *OpenAIOCR) Recognize(ctx context.Context, imageURL string) (models.OCRResult, error) {
	if imageURL == "" {
		return models.OCRResult{}, eris.New("image URL cannot be empty")
	}
	startTime := time.Now()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: ocrSystemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Transcribe the text on this event image.",
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return models.OCRResult{}, eris.Wrap(err, "openai request failed")
	}
	if len(resp.Choices) == 0 {
		return models.OCRResult{}, eris.New("no response choices from OpenAI")
	}

	result, err := parseOCRResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return models.OCRResult{}, err
	}

	o.logger.Debug("image transcribed",
		zap.String("url", imageURL),
		zap.Int("words", len(result.Words)),
		zap.Float64("confidence", result.Confidence),
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return result, nil
}

// Model returns the configured model name
func (o *OpenAIOCR) Model() string {
	return o.model
}

type ocrPayload struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// parseOCRResponse decodes the model's JSON, salvaging near-JSON with jsonrepair
func parseOCRResponse(content string) (models.OCRResult, error) {
	cleaned := cleanJSONResponse(content)
	if cleaned == "" {
		return models.OCRResult{}, eris.New("empty response from OpenAI")
	}
	if !strings.HasPrefix(cleaned, "{") {
		return models.OCRResult{}, eris.Errorf("OpenAI returned plain text instead of JSON: %.80s", cleaned)
	}

	var payload ocrPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return models.OCRResult{}, eris.Wrap(err, "failed to parse OpenAI response JSON")
		}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return models.OCRResult{}, eris.Wrap(err, "failed to parse repaired OpenAI response JSON")
		}
	}

	text := strings.TrimSpace(payload.Text)
	return models.OCRResult{
		Text:       text,
		Confidence: models.ClampConfidence(payload.Confidence),
		Words:      strings.Fields(text),
	}, nil
}

// cleanJSONResponse removes markdown code fences and surrounding whitespace
func cleanJSONResponse(response string) string {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
