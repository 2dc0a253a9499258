// Package genai provides AI-backed operations using the OpenAI API: speech
// transcription, text assessment generation, and meal photo analysis.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/HealthLog/internal/models"
)

// Default models and limits for the three adapter operations.
const (
	// DefaultAudioFilename names in-memory audio buffers for the
	// transcription endpoint, which infers the container from the extension.
	DefaultAudioFilename = "voice_log.wav"
	// DefaultAudioContentType is the MIME type sent with audio uploads.
	DefaultAudioContentType = "audio/wav"
	// DefaultImageMIMEType is assumed when a photo arrives without a
	// detectable MIME type.
	DefaultImageMIMEType = "image/jpeg"
	// maxVisionTokens caps the vision model's response length.
	maxVisionTokens = 500
	// defaultTimeout bounds each outbound adapter call.
	defaultTimeout = 60 * time.Second
)

// ErrNoChoicesReturned indicates the model returned an empty choice list.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// audioService defines minimal interface for audio transcriptions.
type audioService interface {
	Transcribe(ctx context.Context, params openai.AudioTranscriptionNewParams) (openai.Transcription, error)
}

// openaiChatService adapts the OpenAI SDK chat client to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// openaiAudioService adapts the OpenAI SDK audio client to audioService.
type openaiAudioService struct {
	client openai.Client
}

func (s *openaiAudioService) Transcribe(ctx context.Context, params openai.AudioTranscriptionNewParams) (openai.Transcription, error) {
	resp, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return openai.Transcription{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	// APIKey for OpenAI. Falls back to the OPENAI_API_KEY environment variable.
	APIKey string
	// ChatModel used for text assessments. Defaults to GPT-4o.
	ChatModel string
	// VisionModel used for meal photo analysis. Defaults to GPT-4o.
	VisionModel string
	// TranscriptionModel used for speech-to-text. Defaults to Whisper-1.
	TranscriptionModel string
	// Timeout applied to each outbound API call. Defaults to 60s.
	Timeout time.Duration
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithChatModel overrides the text assessment model.
func WithChatModel(model string) Option {
	return func(o *Opts) { o.ChatModel = model }
}

// WithVisionModel overrides the photo analysis model.
func WithVisionModel(model string) Option {
	return func(o *Opts) { o.VisionModel = model }
}

// WithTranscriptionModel overrides the speech-to-text model.
func WithTranscriptionModel(model string) Option {
	return func(o *Opts) { o.TranscriptionModel = model }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the OpenAI API for transcription, assessment, and vision calls.
type Client struct {
	chat               chatService
	audio              audioService
	chatModel          openai.ChatModel
	visionModel        openai.ChatModel
	transcriptionModel openai.AudioModel
	timeout            time.Duration
}

// NewClient initializes a new GenAI client. The API key is taken from
// options or the OPENAI_API_KEY environment variable; a missing key is a
// configuration error.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set: provide WithAPIKey or OPENAI_API_KEY")
	}

	chatModel := openai.ChatModelGPT4o
	if cfg.ChatModel != "" {
		chatModel = openai.ChatModel(cfg.ChatModel)
	}
	visionModel := openai.ChatModelGPT4o
	if cfg.VisionModel != "" {
		visionModel = openai.ChatModel(cfg.VisionModel)
	}
	transcriptionModel := openai.AudioModelWhisper1
	if cfg.TranscriptionModel != "" {
		transcriptionModel = openai.AudioModel(cfg.TranscriptionModel)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		chat:               &openaiChatService{client: cli},
		audio:              &openaiAudioService{client: cli},
		chatModel:          chatModel,
		visionModel:        visionModel,
		transcriptionModel: transcriptionModel,
		timeout:            timeout,
	}, nil
}

// callContext derives a bounded context for one outbound API call.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Transcribe converts raw audio bytes to text. Empty input fails with
// models.ErrEmptyAudio before any network call; a rejected upload maps to
// models.ErrUnrecognizedAudio so callers can distinguish bad input from
// service failures. A transcript with no usable text fails with
// models.ErrEmptyTranscript.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", models.ErrEmptyAudio
	}
	if filename == "" {
		filename = DefaultAudioFilename
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filename, DefaultAudioContentType),
		Model: c.transcriptionModel,
	}
	resp, err := c.audio.Transcribe(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return "", fmt.Errorf("%w: %v", models.ErrUnrecognizedAudio, err)
		}
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	transcript := strings.TrimSpace(resp.Text)
	if transcript == "" {
		return "", models.ErrEmptyTranscript
	}
	return transcript, nil
}

// GenerateAssessment generates a response based on the provided system and
// user prompts.
func (c *Client) GenerateAssessment(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("assessment request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// AnalyzeMealPhoto sends a meal photo with an analysis prompt to the vision
// model. The image is embedded as a base64 data URI. Empty input fails with
// models.ErrEmptyImage before any network call; a rejected image maps to
// models.ErrUnrecognizedImage.
func (c *Client) AnalyzeMealPhoto(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", models.ErrEmptyImage
	}
	if mimeType == "" {
		mimeType = DefaultImageMIMEType
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
	params := openai.ChatCompletionNewParams{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURI}),
			}),
		},
		MaxTokens: openai.Int(maxVisionTokens),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return "", fmt.Errorf("%w: %v", models.ErrUnrecognizedImage, err)
		}
		return "", fmt.Errorf("photo analysis request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}
