package transcribe

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/snarg/radioscribe/internal/config"
)

// Engine family names accepted in implementation keys.
const (
	FamilyOpenAI        = "openai"
	FamilyDeepgram      = "deepgram"
	FamilyWhisperCpp    = "whisper-cpp"
	FamilyWhisperServer = "whisper-server"
	FamilyLocal         = "local"
)

// Registry lazily constructs one Provider per implementation key and caches
// it for the lifetime of the process. Keys are "<family>:<model>". Local
// model loading is expensive, so construction happens at most once per key.
type Registry struct {
	cfg *config.Config
	log zerolog.Logger

	mu        sync.Mutex
	providers map[string]Provider
}

// NewRegistry creates an empty per-process provider registry.
func NewRegistry(cfg *config.Config, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:       cfg,
		log:       log.With().Str("component", "engine-registry").Logger(),
		providers: make(map[string]Provider),
	}
}

// DefaultKey derives the implementation key from configuration. A bare
// family with no model falls back to a family-specific default.
func DefaultKey(cfg *config.Config) string {
	family := cfg.WhisperImplementation
	model := cfg.WhisperModel
	if model == "" {
		model = defaultModel(family)
	}
	return family + ":" + model
}

func defaultModel(family string) string {
	switch family {
	case FamilyOpenAI:
		return "whisper-1"
	case FamilyDeepgram:
		return "nova-2"
	default:
		return "base.en"
	}
}

// Get returns the cached provider for key, constructing it on first use.
// An empty key selects the configured default.
func (r *Registry) Get(key string) (Provider, error) {
	if key == "" {
		key = DefaultKey(r.cfg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[key]; ok {
		return p, nil
	}

	p, err := r.build(key)
	if err != nil {
		return nil, err
	}
	r.providers[key] = p
	r.log.Info().Str("key", key).Str("family", p.Name()).Str("model", p.Model()).Msg("engine initialized")
	return p, nil
}

func (r *Registry) build(key string) (Provider, error) {
	family, model, ok := strings.Cut(key, ":")
	if !ok || model == "" {
		model = defaultModel(family)
	}

	switch family {
	case FamilyOpenAI:
		if r.cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY not set for engine %q", ErrFatalConfig, key)
		}
		return NewOpenAIClient(r.cfg.OpenAIAPIKey, r.cfg.OpenAIBaseURL, model), nil

	case FamilyDeepgram:
		if r.cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("%w: DEEPGRAM_API_KEY not set for engine %q", ErrFatalConfig, key)
		}
		return NewDeepgramClient(r.cfg.DeepgramAPIKey, model, r.cfg.EngineTimeout), nil

	case FamilyWhisperCpp:
		return NewWhisperCppClient(r.cfg.WhisperCppBin, r.cfg.WhisperModelDir, model), nil

	case FamilyWhisperServer:
		if r.cfg.WhisperServerURL == "" {
			return nil, fmt.Errorf("%w: WHISPER_SERVER_URL not set for engine %q", ErrFatalConfig, key)
		}
		return NewWhisperServerClient(r.cfg.WhisperServerURL, model, r.cfg.EngineTimeout), nil

	case FamilyLocal:
		return NewLocalWhisper(r.cfg.WhisperModelDir, model)

	default:
		return nil, fmt.Errorf("%w: unknown engine family %q", ErrFatalConfig, family)
	}
}
