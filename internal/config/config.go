package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds process-wide configuration shared by the intake server, the
// transcription workers, and the autoscaler. Each binary reads the subset it
// needs; required-ness is enforced at use sites so one .env can drive all
// three processes.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Intake HTTP
	HTTPAddr      string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout   time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout  time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout   time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthToken     string        `env:"API_KEY"`
	MinCallLength float64       `env:"MIN_CALL_LENGTH" envDefault:"1"`

	// Call store
	DatabaseURL string `env:"DATABASE_URL"`

	// Queue broker (env names kept from the original deployment)
	BrokerURL      string `env:"CELERY_BROKER_URL"`
	ResultBackend  string `env:"CELERY_RESULT_BACKEND"`
	Queues         string `env:"CELERY_QUEUES" envDefault:"transcribe,retranscribe"`
	Concurrency    int    `env:"CELERY_CONCURRENCY" envDefault:"1"`
	WorkerHostname string `env:"CELERY_HOSTNAME"`

	// Broker management API for telemetry (consumer count, rates)
	BrokerAPIURL string `env:"BROKER_API_URL"`

	// Transcription engine
	WhisperImplementation string        `env:"WHISPER_IMPLEMENTATION" envDefault:"whisper-cpp"`
	WhisperModel          string        `env:"WHISPER_MODEL" envDefault:"base.en"`
	WhisperModelDir       string        `env:"WHISPER_MODEL_DIR" envDefault:"/models"`
	WhisperCppBin         string        `env:"WHISPERCPP_BIN" envDefault:"whisper-cpp"`
	WhisperServerURL      string        `env:"WHISPER_SERVER_URL"`
	OpenAIAPIKey          string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL         string        `env:"OPENAI_BASE_URL"`
	DeepgramAPIKey        string        `env:"DEEPGRAM_API_KEY"`
	EngineTimeout         time.Duration `env:"ENGINE_TIMEOUT" envDefault:"120s"`
	VadFilterDigital      bool          `env:"VAD_FILTER_DIGITAL" envDefault:"false"`
	VadFilterAnalog       bool          `env:"VAD_FILTER_ANALOG" envDefault:"false"`

	// S3-compatible audio storage
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3PublicURL string `env:"S3_PUBLIC_URL"`

	// Search index
	MeiliURL          string `env:"MEILI_URL"`
	MeiliKey          string `env:"MEILI_MASTER_KEY"`
	MeiliIndex        string `env:"MEILI_INDEX" envDefault:"calls"`
	MeiliSplitByMonth bool   `env:"MEILI_INDEX_SPLIT_BY_MONTH" envDefault:"false"`
	SearchUIURL       string `env:"SEARCH_UI_URL"`

	// Notifications: comma-separated webhook URIs
	NotifyURLs string `env:"NOTIFY_URLS"`

	// Autoscaler / marketplace
	VastAPIKey              string        `env:"VAST_API_KEY"`
	VastOnDemand            bool          `env:"VAST_ONDEMAND" envDefault:"false"`
	VastImage               string        `env:"VAST_IMAGE"`
	CUDAVersion             float64       `env:"CUDA_VERSION" envDefault:"12.0"`
	APIBaseURL              string        `env:"API_BASE_URL"`
	GitCommit               string        `env:"GIT_COMMIT" envDefault:"0000000"`
	MinInstances            int           `env:"AUTOSCALE_MIN_INSTANCES" envDefault:"0"`
	MaxInstances            int           `env:"AUTOSCALE_MAX_INSTANCES" envDefault:"10"`
	AutoscaleInterval       time.Duration `env:"AUTOSCALE_INTERVAL" envDefault:"60s"`
	ForbiddenInstanceConfig string        `env:"FORBIDDEN_INSTANCE_CONFIG" envDefault:"config/forbidden-instances.json"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	return cfg, nil
}
