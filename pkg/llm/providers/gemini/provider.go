package gemini

import (
	"context"
	"fmt"
	"iter"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode"

	"memoria/pkg/memoria"

	"google.golang.org/genai"
)

const defaultAPIVersion = "v1beta"

// ProviderConfig configures one Gemini-backed provider instance.
type ProviderConfig struct {
	// APIKey is the credential used to authenticate requests.
	APIKey string
	// BaseURL optionally overrides the Gemini endpoint.
	BaseURL string
	// APIVersion optionally overrides Gemini API version.
	//
	// Zero defaults to v1beta.
	APIVersion string
	// ThinkingBudget optionally sets the thinking token budget. Zero disables
	// thinking on models that allow it.
	ThinkingBudget *int
}

// Provider is a memoria LLM provider backed by Google Gemini streaming API.
type Provider struct {
	models         geminiModelsClient
	thinkingBudget *int32
}

type geminiModelsClient interface {
	GenerateContentStream(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) iter.Seq2[*genai.GenerateContentResponse, error]
}

// New builds one Gemini API provider instance.
func New(cfg ProviderConfig) (*Provider, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("new gemini provider: %w", err)
	}
	budget, err := normalizeThinkingBudget(cfg.ThinkingBudget)
	if err != nil {
		return nil, fmt.Errorf("new gemini provider thinking_budget: %w", err)
	}

	return &Provider{models: client.Models, thinkingBudget: budget}, nil
}

// NewClient validates cfg and builds one Gemini Developer API client.
func NewClient(cfg ProviderConfig) (*genai.Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing api_key")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("parse base_url: must include scheme and host")
		}
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	if !isValidAPIVersion(apiVersion) {
		return nil, fmt.Errorf("invalid api_version %q", cfg.APIVersion)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	if client == nil || client.Models == nil {
		return nil, fmt.Errorf("new gemini client: models client is nil")
	}

	return client, nil
}

// GenerateStream starts one Gemini streaming request.
func (p *Provider) GenerateStream(
	ctx context.Context,
	req memoria.LLMGenerateRequest,
) (memoria.LLMStream, error) {
	if p == nil {
		return nil, fmt.Errorf("gemini generate stream: nil provider")
	}
	if ctx == nil {
		return nil, fmt.Errorf("gemini generate stream: nil context")
	}
	if p.models == nil {
		return nil, fmt.Errorf("gemini generate stream: models client is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("gemini generate stream validate request: %w", err)
	}

	contents, config, err := mapGenerateRequest(req, p.thinkingBudget)
	if err != nil {
		return nil, fmt.Errorf("gemini generate stream map request: %w", err)
	}
	// The caller context is the only deadline for streams.
	streamTimeout := time.Duration(0)
	config.HTTPOptions = &genai.HTTPOptions{Timeout: &streamTimeout}

	stream := p.models.GenerateContentStream(ctx, strings.TrimSpace(req.Model), contents, config)
	if stream == nil {
		return nil, fmt.Errorf("gemini generate stream: stream is nil")
	}

	return newGeminiStream(stream), nil
}

func mapGenerateRequest(
	req memoria.LLMGenerateRequest,
	thinkingBudget *int32,
) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	systemParts := make([]string, 0, len(req.Messages))
	contents := make([]*genai.Content, 0, len(req.Messages))
	for index, message := range req.Messages {
		switch message.Role {
		case memoria.LLMMessageRoleSystem:
			systemParts = append(systemParts, message.Content)
		case memoria.LLMMessageRoleUser:
			contents = append(contents, genai.NewContentFromText(message.Content, genai.RoleUser))
		case memoria.LLMMessageRoleAssistant:
			contents = append(contents, genai.NewContentFromText(message.Content, genai.RoleModel))
		default:
			return nil, nil, fmt.Errorf("messages[%d] role: unsupported role %q", index, message.Role)
		}
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("missing non-system messages")
	}

	config := &genai.GenerateContentConfig{}
	if len(systemParts) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{
				{Text: strings.Join(systemParts, "\n\n")},
			},
		}
	}
	if req.Temperature > 0 {
		temperature := float32(req.Temperature)
		config.Temperature = &temperature
	}
	if req.MaxOutputTokens > 0 {
		if req.MaxOutputTokens > math.MaxInt32 {
			return nil, nil, fmt.Errorf("max_output_tokens exceeds int32 range")
		}
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if thinkingBudget != nil {
		budget := *thinkingBudget
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}

	return contents, config, nil
}

func normalizeThinkingBudget(raw *int) (*int32, error) {
	if raw == nil {
		return nil, nil
	}
	if *raw < 0 {
		return nil, fmt.Errorf("must be >= 0")
	}
	if *raw > math.MaxInt32 {
		return nil, fmt.Errorf("must fit int32")
	}
	normalized := int32(*raw)
	return &normalized, nil
}

func isValidAPIVersion(raw string) bool {
	if raw == "" {
		return false
	}
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case '-', '.', '_':
			continue
		default:
			return false
		}
	}
	return true
}

var _ memoria.LLMProvider = (*Provider)(nil)
