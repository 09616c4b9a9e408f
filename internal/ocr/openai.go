package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

var errRecognizerClosed = errors.New("recognizer closed")

// OpenAIEngine recognizes text with a vision-capable chat model.
type OpenAIEngine struct {
	client *openai.Client
	model  string
}

func NewOpenAIEngine(apiKey, model string) (*OpenAIEngine, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	return NewOpenAIEngineWithConfig(openai.DefaultConfig(apiKey), model), nil
}

func NewOpenAIEngineWithConfig(cfg openai.ClientConfig, model string) *OpenAIEngine {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(cfg), model: model}
}

func (e *OpenAIEngine) Load(ctx context.Context, language string) (Recognizer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if language == "" {
		language = DefaultLanguage
	}
	return &openAIRecognizer{engine: e, language: language}, nil
}

type openAIRecognizer struct {
	engine   *OpenAIEngine
	language string

	mu     sync.Mutex
	closed bool
}

func (r *openAIRecognizer) Recognize(ctx context.Context, image []byte, mediaType string) (string, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return "", errRecognizerClosed
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("unsupported media type %q for recognition", mediaType)
	}
	if len(image) == 0 {
		return "", fmt.Errorf("empty image")
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(image))
	resp, err := r.engine.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.engine.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You transcribe prescription documents. Reply with the text exactly as written, without commentary. Reply with nothing if the image contains no text.",
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: fmt.Sprintf("Transcribe this document. Expected language: %s.", r.language),
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai recognition: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

func (r *openAIRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
