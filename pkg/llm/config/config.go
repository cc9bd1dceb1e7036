// Package config resolves provider profiles and per-task model settings for the
// language and speech providers used by the bot.
package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"
)

const (
	defaultRequestTimeout = 90 * time.Second

	// ProviderTypeOpenAI selects the OpenAI SDK, including OpenAI-compatible endpoints.
	ProviderTypeOpenAI = "openai"
	// ProviderTypeGemini selects the Gemini Developer API.
	ProviderTypeGemini = "gemini"

	// OpenAIAPIResponses streams through the Responses API.
	OpenAIAPIResponses = "responses"
	// OpenAIAPIChat streams through Chat Completions, for OpenAI-compatible hosts.
	OpenAIAPIChat = "chat"

	defaultGeminiAPIVersion = "v1beta"

	// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
	GroqBaseURL = "https://api.groq.com/openai/v1"
)

// Config is the resolved provider configuration.
type Config struct {
	// RequestTimeout bounds one provider call.
	RequestTimeout time.Duration
	// Providers contains provider profiles keyed by profile name.
	Providers map[string]ProviderProfile
	// Refine selects the model that rewrites transcripts.
	Refine Task
	// Summary selects the model that writes period digests.
	Summary SummaryTask
	// Transcription selects the speech-to-text model.
	Transcription TranscriptionTask
}

// ProviderProfile describes one named provider account.
type ProviderProfile struct {
	Type    string
	APIKey  string
	BaseURL string
	OpenAI  *OpenAIOptions
	Gemini  *GeminiOptions
}

// OpenAIOptions carries OpenAI-specific profile options.
type OpenAIOptions struct {
	Organization string
	Project      string
	// MaxRetries overrides SDK retry count. Nil means zero: calls are attempted once.
	MaxRetries *int
	// API selects responses or chat streaming.
	API string
}

// GeminiOptions carries Gemini-specific profile options.
type GeminiOptions struct {
	APIVersion string
}

// Task binds one pipeline step to a provider profile and model.
type Task struct {
	Provider        string
	Model           string
	MaxOutputTokens int
	Temperature     float64
}

// Enabled reports whether the task has a provider.
func (t Task) Enabled() bool {
	return t.Provider != ""
}

// SummaryTask extends Task with per-period output budgets.
type SummaryTask struct {
	Task
	MonthlyMaxOutputTokens int
	YearlyMaxOutputTokens  int
}

// TranscriptionTask binds speech-to-text to a provider profile and model.
type TranscriptionTask struct {
	Provider string
	Model    string
	// Language is the language hint sent with every request.
	Language string
	// ConvertToWAV transcodes OGG voice notes to WAV before upload.
	ConvertToWAV bool
}

// File is the on-disk shape of the provider section, shared by JSON and YAML.
type File struct {
	RequestTimeout string                  `json:"request_timeout" yaml:"request_timeout"`
	Providers      map[string]FileProvider `json:"providers" yaml:"providers"`
	Refine         *FileTask               `json:"refine" yaml:"refine"`
	Summary        *FileSummaryTask        `json:"summary" yaml:"summary"`
	Transcription  *FileTranscription      `json:"transcription" yaml:"transcription"`
}

// FileProvider is the on-disk shape of one provider profile.
type FileProvider struct {
	Type    string      `json:"type" yaml:"type"`
	APIKey  string      `json:"api_key" yaml:"api_key"`
	BaseURL string      `json:"base_url" yaml:"base_url"`
	OpenAI  *FileOpenAI `json:"openai" yaml:"openai"`
	Gemini  *FileGemini `json:"gemini" yaml:"gemini"`
}

// FileOpenAI is the on-disk shape of OpenAI options.
type FileOpenAI struct {
	Organization string `json:"organization" yaml:"organization"`
	Project      string `json:"project" yaml:"project"`
	MaxRetries   *int   `json:"max_retries" yaml:"max_retries"`
	API          string `json:"api" yaml:"api"`
}

// FileGemini is the on-disk shape of Gemini options.
type FileGemini struct {
	APIVersion string `json:"api_version" yaml:"api_version"`
}

// FileTask is the on-disk shape of one task binding.
type FileTask struct {
	Provider        string   `json:"provider" yaml:"provider"`
	Model           string   `json:"model" yaml:"model"`
	MaxOutputTokens int      `json:"max_output_tokens" yaml:"max_output_tokens"`
	Temperature     *float64 `json:"temperature" yaml:"temperature"`
}

// FileSummaryTask is the on-disk shape of the summary task.
type FileSummaryTask struct {
	FileTask               `yaml:",inline"`
	MonthlyMaxOutputTokens int `json:"monthly_max_output_tokens" yaml:"monthly_max_output_tokens"`
	YearlyMaxOutputTokens  int `json:"yearly_max_output_tokens" yaml:"yearly_max_output_tokens"`
}

// FileTranscription is the on-disk shape of the transcription task.
type FileTranscription struct {
	Provider     string `json:"provider" yaml:"provider"`
	Model        string `json:"model" yaml:"model"`
	Language     string `json:"language" yaml:"language"`
	ConvertToWAV bool   `json:"convert_to_wav" yaml:"convert_to_wav"`
}

// Env carries provider credentials read from the process environment.
type Env struct {
	OpenAIAPIKey string
	GroqAPIKey   string
	GeminiAPIKey string
}

// Resolve merges file settings with environment credentials and fills task defaults.
//
// Profiles named openai, groq and gemini are synthesized from Env when the file
// does not define them. Tasks without an explicit provider pick the first
// available profile in the order openai, groq, gemini; with no profile at all
// the task stays disabled.
func Resolve(file File, env Env) (Config, error) {
	cfg := Config{
		RequestTimeout: defaultRequestTimeout,
		Providers:      make(map[string]ProviderProfile, len(file.Providers)+3),
	}

	if raw := strings.TrimSpace(file.RequestTimeout); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("resolve llm config request_timeout: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("resolve llm config request_timeout: must be > 0")
		}
		cfg.RequestTimeout = timeout
	}

	for key, raw := range file.Providers {
		name := strings.TrimSpace(key)
		if name == "" {
			return Config{}, fmt.Errorf("resolve llm config providers: empty provider key")
		}
		if _, exists := cfg.Providers[name]; exists {
			return Config{}, fmt.Errorf("resolve llm config providers: duplicate provider key %s", name)
		}
		cfg.Providers[name] = parseProvider(raw)
	}
	addEnvProfiles(cfg.Providers, env)

	cfg.Refine = resolveTask(file.Refine, cfg.Providers, Task{MaxOutputTokens: 800, Temperature: 0.7})
	summaryBase := (*FileTask)(nil)
	if file.Summary != nil {
		summaryBase = &file.Summary.FileTask
	}
	cfg.Summary = SummaryTask{
		Task:                   resolveTask(summaryBase, cfg.Providers, Task{MaxOutputTokens: 800, Temperature: 0.8}),
		MonthlyMaxOutputTokens: 800,
		YearlyMaxOutputTokens:  1000,
	}
	if file.Summary != nil {
		if file.Summary.MonthlyMaxOutputTokens > 0 {
			cfg.Summary.MonthlyMaxOutputTokens = file.Summary.MonthlyMaxOutputTokens
		}
		if file.Summary.YearlyMaxOutputTokens > 0 {
			cfg.Summary.YearlyMaxOutputTokens = file.Summary.YearlyMaxOutputTokens
		}
	}
	cfg.Transcription = resolveTranscription(file.Transcription, cfg.Providers)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration coherence.
func (cfg Config) Validate() error {
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("validate llm config: request_timeout must be > 0")
	}
	for _, name := range cfg.ProviderNames() {
		if err := validateProviderProfile(cfg.Providers[name]); err != nil {
			return fmt.Errorf("validate llm config providers[%s]: %w", name, err)
		}
	}

	tasks := []struct {
		name string
		task Task
	}{
		{name: "refine", task: cfg.Refine},
		{name: "summary", task: cfg.Summary.Task},
		{name: "transcription", task: Task{Provider: cfg.Transcription.Provider, Model: cfg.Transcription.Model}},
	}
	for _, entry := range tasks {
		if !entry.task.Enabled() {
			continue
		}
		if _, exists := cfg.Providers[entry.task.Provider]; !exists {
			return fmt.Errorf("validate llm config %s: provider %s is not configured", entry.name, entry.task.Provider)
		}
		if strings.TrimSpace(entry.task.Model) == "" {
			return fmt.Errorf("validate llm config %s: missing model", entry.name)
		}
		if entry.task.MaxOutputTokens < 0 {
			return fmt.Errorf("validate llm config %s: max_output_tokens must be >= 0", entry.name)
		}
		if entry.task.Temperature < 0 {
			return fmt.Errorf("validate llm config %s: temperature must be >= 0", entry.name)
		}
	}

	return nil
}

// ProviderNames returns profile names in lexical order.
func (cfg Config) ProviderNames() []string {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func parseProvider(raw FileProvider) ProviderProfile {
	profile := ProviderProfile{
		Type:    strings.ToLower(strings.TrimSpace(raw.Type)),
		APIKey:  strings.TrimSpace(raw.APIKey),
		BaseURL: strings.TrimSpace(raw.BaseURL),
	}
	if raw.OpenAI != nil {
		profile.OpenAI = &OpenAIOptions{
			Organization: strings.TrimSpace(raw.OpenAI.Organization),
			Project:      strings.TrimSpace(raw.OpenAI.Project),
			MaxRetries:   raw.OpenAI.MaxRetries,
			API:          strings.ToLower(strings.TrimSpace(raw.OpenAI.API)),
		}
	}
	if raw.Gemini != nil {
		profile.Gemini = &GeminiOptions{APIVersion: strings.TrimSpace(raw.Gemini.APIVersion)}
	}

	return profile
}

func addEnvProfiles(providers map[string]ProviderProfile, env Env) {
	if key := strings.TrimSpace(env.OpenAIAPIKey); key != "" {
		if _, exists := providers["openai"]; !exists {
			providers["openai"] = ProviderProfile{Type: ProviderTypeOpenAI, APIKey: key}
		}
	}
	if key := strings.TrimSpace(env.GroqAPIKey); key != "" {
		if _, exists := providers["groq"]; !exists {
			providers["groq"] = ProviderProfile{
				Type:    ProviderTypeOpenAI,
				APIKey:  key,
				BaseURL: GroqBaseURL,
				OpenAI:  &OpenAIOptions{API: OpenAIAPIChat},
			}
		}
	}
	if key := strings.TrimSpace(env.GeminiAPIKey); key != "" {
		if _, exists := providers["gemini"]; !exists {
			providers["gemini"] = ProviderProfile{Type: ProviderTypeGemini, APIKey: key}
		}
	}
}

func resolveTask(raw *FileTask, providers map[string]ProviderProfile, defaults Task) Task {
	task := defaults
	if raw != nil {
		task.Provider = strings.TrimSpace(raw.Provider)
		task.Model = strings.TrimSpace(raw.Model)
		if raw.MaxOutputTokens != 0 {
			task.MaxOutputTokens = raw.MaxOutputTokens
		}
		if raw.Temperature != nil {
			task.Temperature = *raw.Temperature
		}
	}
	if task.Provider == "" {
		task.Provider = preferredProvider(providers)
	}
	if task.Provider != "" && task.Model == "" {
		task.Model = defaultChatModel(task.Provider, providers[task.Provider])
	}

	return task
}

func resolveTranscription(raw *FileTranscription, providers map[string]ProviderProfile) TranscriptionTask {
	task := TranscriptionTask{Language: "de"}
	if raw != nil {
		task.Provider = strings.TrimSpace(raw.Provider)
		task.Model = strings.TrimSpace(raw.Model)
		task.ConvertToWAV = raw.ConvertToWAV
		if language := strings.TrimSpace(raw.Language); language != "" {
			task.Language = language
		}
	}
	if task.Provider == "" {
		task.Provider = preferredProvider(providers)
	}
	if task.Provider != "" && task.Model == "" {
		task.Model = defaultTranscriptionModel(task.Provider, providers[task.Provider])
	}

	return task
}

func preferredProvider(providers map[string]ProviderProfile) string {
	for _, name := range []string{"openai", "groq", "gemini"} {
		if _, exists := providers[name]; exists {
			return name
		}
	}
	if len(providers) == 1 {
		for name := range providers {
			return name
		}
	}

	return ""
}

func defaultChatModel(name string, profile ProviderProfile) string {
	switch {
	case profile.Type == ProviderTypeGemini:
		return "gemini-2.0-flash"
	case name == "groq" || profile.BaseURL == GroqBaseURL:
		return "llama-3.3-70b-versatile"
	default:
		return "gpt-4o-mini"
	}
}

func defaultTranscriptionModel(name string, profile ProviderProfile) string {
	switch {
	case profile.Type == ProviderTypeGemini:
		return "gemini-2.0-flash"
	case name == "groq" || profile.BaseURL == GroqBaseURL:
		return "whisper-large-v3"
	default:
		return "whisper-1"
	}
}

func validateProviderProfile(profile ProviderProfile) error {
	switch profile.Type {
	case ProviderTypeOpenAI:
		if profile.Gemini != nil {
			return fmt.Errorf("gemini options are only supported for gemini providers")
		}
		if profile.OpenAI != nil {
			if profile.OpenAI.MaxRetries != nil && *profile.OpenAI.MaxRetries < 0 {
				return fmt.Errorf("max_retries must be >= 0")
			}
			switch profile.OpenAI.API {
			case "", OpenAIAPIResponses, OpenAIAPIChat:
			default:
				return fmt.Errorf("unsupported openai api %q", profile.OpenAI.API)
			}
		}
	case ProviderTypeGemini:
		if profile.OpenAI != nil {
			return fmt.Errorf("openai options are only supported for openai providers")
		}
		if profile.Gemini != nil && profile.Gemini.APIVersion != "" && !isValidAPIVersion(profile.Gemini.APIVersion) {
			return fmt.Errorf("invalid api_version %q", profile.Gemini.APIVersion)
		}
	case "":
		return fmt.Errorf("missing type")
	default:
		return fmt.Errorf("unsupported type %q", profile.Type)
	}
	if profile.APIKey == "" {
		return fmt.Errorf("missing api_key")
	}
	if profile.BaseURL != "" {
		parsed, err := url.Parse(profile.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid base_url: must include scheme and host")
		}
	}

	return nil
}

// GeminiAPIVersion returns the configured API version or the default.
func (p ProviderProfile) GeminiAPIVersion() string {
	if p.Gemini != nil && p.Gemini.APIVersion != "" {
		return p.Gemini.APIVersion
	}

	return defaultGeminiAPIVersion
}

// OpenAIAPI returns the configured OpenAI API flavor or the default.
func (p ProviderProfile) OpenAIAPI() string {
	if p.OpenAI != nil && p.OpenAI.API != "" {
		return p.OpenAI.API
	}

	return OpenAIAPIResponses
}

func isValidAPIVersion(raw string) bool {
	if !strings.HasPrefix(raw, "v") || len(raw) < 2 {
		return false
	}
	for _, r := range raw[1:] {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}

	return true
}
