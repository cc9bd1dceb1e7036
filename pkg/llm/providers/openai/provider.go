package openai

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"memoria/pkg/memoria"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

const (
	openAIEventOutputTextDelta = "response.output_text.delta"
	openAIEventCompleted       = "response.completed"
	openAIEventFailed          = "response.failed"
	openAIEventError           = "error"

	// APIResponses streams through the Responses API.
	APIResponses = "responses"
	// APIChat streams through Chat Completions, which OpenAI-compatible hosts
	// such as Groq or Ollama implement.
	APIChat = "chat"
)

// ProviderConfig configures one OpenAI-backed provider instance.
type ProviderConfig struct {
	// APIKey is the credential used to authenticate requests.
	APIKey string
	// BaseURL optionally overrides the OpenAI endpoint.
	BaseURL string
	// Organization optionally sets the OpenAI organization header.
	Organization string
	// Project optionally sets the OpenAI project header.
	Project string
	// MaxRetries optionally overrides the SDK retry count.
	//
	// Nil disables retries: every call is attempted exactly once.
	MaxRetries *int
	// API selects responses (default) or chat streaming.
	API string
}

// Provider is a memoria LLM provider backed by OpenAI streaming endpoints.
type Provider struct {
	api       string
	responses openAIResponsesClient
	chat      openAIChatClient
}

type openAIResponsesClient interface {
	NewStreaming(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) openAIResponseStream
}

type openAIChatClient interface {
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) eventStream[openai.ChatCompletionChunk]
}

type openAIResponseServiceAdapter struct {
	service responses.ResponseService
}

func (a openAIResponseServiceAdapter) NewStreaming(
	ctx context.Context,
	body responses.ResponseNewParams,
	opts ...option.RequestOption,
) openAIResponseStream {
	return a.service.NewStreaming(ctx, body, opts...)
}

type openAIChatServiceAdapter struct {
	service openai.ChatCompletionService
}

func (a openAIChatServiceAdapter) NewStreaming(
	ctx context.Context,
	body openai.ChatCompletionNewParams,
	opts ...option.RequestOption,
) eventStream[openai.ChatCompletionChunk] {
	return a.service.NewStreaming(ctx, body, opts...)
}

// New builds one OpenAI provider instance.
func New(cfg ProviderConfig) (*Provider, error) {
	normalized, err := normalizeProviderConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("new openai provider: %w", err)
	}

	client := openai.NewClient(ClientOptions(normalized)...)

	return &Provider{
		api:       normalized.API,
		responses: openAIResponseServiceAdapter{service: client.Responses},
		chat:      openAIChatServiceAdapter{service: client.Chat.Completions},
	}, nil
}

// ClientOptions returns SDK request options for one normalized configuration.
//
// The transcription provider shares these so both surfaces honour the same
// endpoint, headers and retry policy.
func ClientOptions(cfg ProviderConfig) []option.RequestOption {
	retries := 0
	if cfg.MaxRetries != nil {
		retries = *cfg.MaxRetries
	}

	options := make([]option.RequestOption, 0, 5)
	options = append(options, option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(retries))
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		options = append(options, option.WithOrganization(cfg.Organization))
	}
	if cfg.Project != "" {
		options = append(options, option.WithProject(cfg.Project))
	}

	return options
}

// GenerateStream starts one streaming request on the configured API.
func (p *Provider) GenerateStream(
	ctx context.Context,
	req memoria.LLMGenerateRequest,
) (memoria.LLMStream, error) {
	if p == nil {
		return nil, fmt.Errorf("openai generate stream: nil provider")
	}
	if ctx == nil {
		return nil, fmt.Errorf("openai generate stream: nil context")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("openai generate stream validate request: %w", err)
	}

	if p.api == APIChat {
		return p.generateChatStream(ctx, req)
	}
	if p.responses == nil {
		return nil, fmt.Errorf("openai generate stream: responses client is nil")
	}

	params, err := mapGenerateRequest(req)
	if err != nil {
		return nil, fmt.Errorf("openai generate stream map request: %w", err)
	}

	stream := p.responses.NewStreaming(ctx, params)
	if stream == nil {
		return nil, fmt.Errorf("openai generate stream: openai stream is nil")
	}

	return newOpenAIStream(stream), nil
}

func (p *Provider) generateChatStream(ctx context.Context, req memoria.LLMGenerateRequest) (memoria.LLMStream, error) {
	if p.chat == nil {
		return nil, fmt.Errorf("openai generate stream: chat client is nil")
	}

	params, err := mapChatRequest(req)
	if err != nil {
		return nil, fmt.Errorf("openai generate stream map chat request: %w", err)
	}

	stream := p.chat.NewStreaming(ctx, params)
	if stream == nil {
		return nil, fmt.Errorf("openai generate stream: chat stream is nil")
	}

	return &openAIStream[openai.ChatCompletionChunk]{stream: stream, mapEvent: mapChatCompletionChunk}, nil
}

func mapGenerateRequest(req memoria.LLMGenerateRequest) (responses.ResponseNewParams, error) {
	items := make(responses.ResponseInputParam, 0, len(req.Messages))
	for index, message := range req.Messages {
		role, err := mapMessageRole(message.Role)
		if err != nil {
			return responses.ResponseNewParams{}, fmt.Errorf("messages[%d] role: %w", index, err)
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(message.Content, role))
	}

	params := responses.ResponseNewParams{
		Model: strings.TrimSpace(req.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	return params, nil
}

func mapChatRequest(req memoria.LLMGenerateRequest) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for index, message := range req.Messages {
		switch message.Role {
		case memoria.LLMMessageRoleSystem:
			messages = append(messages, openai.SystemMessage(message.Content))
		case memoria.LLMMessageRoleUser:
			messages = append(messages, openai.UserMessage(message.Content))
		case memoria.LLMMessageRoleAssistant:
			messages = append(messages, openai.AssistantMessage(message.Content))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("messages[%d] role: unsupported role %q", index, message.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(strings.TrimSpace(req.Model)),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	return params, nil
}

func mapMessageRole(role memoria.LLMMessageRole) (responses.EasyInputMessageRole, error) {
	switch role {
	case memoria.LLMMessageRoleSystem:
		return responses.EasyInputMessageRoleSystem, nil
	case memoria.LLMMessageRoleUser:
		return responses.EasyInputMessageRoleUser, nil
	case memoria.LLMMessageRoleAssistant:
		return responses.EasyInputMessageRoleAssistant, nil
	default:
		return "", fmt.Errorf("unsupported role %q", role)
	}
}

// NormalizeConfig trims and validates one provider configuration.
func NormalizeConfig(cfg ProviderConfig) (ProviderConfig, error) {
	return normalizeProviderConfig(cfg)
}

func normalizeProviderConfig(cfg ProviderConfig) (ProviderConfig, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Organization = strings.TrimSpace(cfg.Organization)
	cfg.Project = strings.TrimSpace(cfg.Project)
	cfg.API = strings.ToLower(strings.TrimSpace(cfg.API))

	if cfg.APIKey == "" {
		return ProviderConfig{}, fmt.Errorf("missing api_key")
	}
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("parse base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return ProviderConfig{}, fmt.Errorf("parse base_url: must include scheme and host")
		}
	}
	if cfg.MaxRetries != nil && *cfg.MaxRetries < 0 {
		return ProviderConfig{}, fmt.Errorf("max_retries must be >= 0")
	}
	switch cfg.API {
	case "":
		cfg.API = APIResponses
	case APIResponses, APIChat:
	default:
		return ProviderConfig{}, fmt.Errorf("unsupported api %q", cfg.API)
	}

	return cfg, nil
}

var _ memoria.LLMProvider = (*Provider)(nil)
