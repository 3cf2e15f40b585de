package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Transcription modes
const (
	ModeStreaming = "streaming" // Persistent socket to the transcription relay
	ModeBatch     = "batch"     // Periodic multipart uploads with diarization
	ModeDeepgram  = "deepgram"  // Deepgram live API via the SDK
)

// Config holds all configuration for the meeting capture service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service, used only for logging the websocket endpoint.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Transcription transport selection
	TranscriptionMode  string `envconfig:"TRANSCRIPTION_MODE" default:"streaming"`
	TranscriptionWSURL string `envconfig:"TRANSCRIPTION_WS_URL" default:"ws://localhost:8000/ws/transcribe"`

	// Batch transcription (multipart upload)
	BatchEndpoint      string `envconfig:"BATCH_ENDPOINT" default:"https://api.elevenlabs.io/v1/speech-to-text"`
	BatchAPIKey        string `envconfig:"BATCH_API_KEY" default:""`
	BatchModel         string `envconfig:"BATCH_MODEL" default:"scribe_v1"`
	BatchLanguage      string `envconfig:"BATCH_LANGUAGE" default:"en"`
	BatchDiarize       bool   `envconfig:"BATCH_DIARIZE" default:"true"`
	BatchWindow        int    `envconfig:"BATCH_WINDOW" default:"15"`          // seconds per upload window
	BatchPausePoll     int    `envconfig:"BATCH_PAUSE_POLL" default:"1000"`    // milliseconds between pause checks
	BatchSkipSilence   bool   `envconfig:"BATCH_SKIP_SILENCE" default:"false"` // drop windows the VAD marks silent
	BatchTimeout       int    `envconfig:"BATCH_TIMEOUT" default:"60"`         // seconds per upload
	PlaceholderSpeaker string `envconfig:"PLACEHOLDER_SPEAKER" default:"Detected Speaker"`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Speaker labelling
	DefaultSpeaker string `envconfig:"DEFAULT_SPEAKER" default:"Speaker"`
	SpeakerRoles   string `envconfig:"SPEAKER_ROLES" default:"Host,Guest,Participant"` // used by diarized batch mode
	DelegateName   string `envconfig:"DELEGATE_NAME" default:"Sarah Jones"`

	// Session lifecycle
	SessionTTL          int `envconfig:"SESSION_TTL" default:"1800"`         // seconds an ended session stays available for minutes
	SessionReapInterval int `envconfig:"SESSION_REAP_INTERVAL" default:"60"` // seconds between sweeps for expired sessions

	// Minutes synthesis (OpenAI-compatible chat completions)
	MinutesAPIKey      string  `envconfig:"MINUTES_API_KEY" default:""`
	MinutesBaseURL     string  `envconfig:"MINUTES_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta/openai/"`
	MinutesModel       string  `envconfig:"MINUTES_MODEL" default:"gemini-2.5-flash"`
	MinutesTemperature float64 `envconfig:"MINUTES_TEMPERATURE" default:"0.3"`
	MinutesTimeout     int     `envconfig:"MINUTES_TIMEOUT" default:"60"` // seconds

	// Meeting link creation. Empty URL means locally generated links only.
	MeetLinkURL     string `envconfig:"MEETLINK_URL" default:""`
	MeetLinkTimeout int    `envconfig:"MEETLINK_TIMEOUT" default:"10"` // seconds

	// Kafka event publishing
	KafkaEnabled      bool   `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers      string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaTopicLines   string `envconfig:"KAFKA_TOPIC_LINES" default:"meeting.transcript.lines"`
	KafkaTopicSession string `envconfig:"KAFKA_TOPIC_SESSIONS" default:"meeting.sessions"`
	KafkaPrincipal    string `envconfig:"KAFKA_PRINCIPAL" default:"meeting-capture"`

	// Audio processing configuration
	AudioSampleRate    int     `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`
	AudioFrameSamples  int     `envconfig:"AUDIO_FRAME_SAMPLES" default:"4096"`   // ~256ms at 16kHz
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"65536"`    // Ring buffer size in bytes
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`      // Frames of silence to mark speech end

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the fields required by the selected transcription mode
func (c *Config) Validate() error {
	switch c.TranscriptionMode {
	case ModeStreaming:
		if c.TranscriptionWSURL == "" {
			return fmt.Errorf("TRANSCRIPTION_WS_URL is required in %s mode", ModeStreaming)
		}
	case ModeBatch:
		if c.BatchAPIKey == "" {
			return fmt.Errorf("BATCH_API_KEY is required in %s mode", ModeBatch)
		}
		if c.BatchWindow <= 0 {
			return fmt.Errorf("BATCH_WINDOW must be positive, got %d", c.BatchWindow)
		}
	case ModeDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required in %s mode", ModeDeepgram)
		}
	default:
		return fmt.Errorf("unknown TRANSCRIPTION_MODE %q", c.TranscriptionMode)
	}

	if c.SessionTTL < 0 {
		return fmt.Errorf("SESSION_TTL must not be negative, got %d", c.SessionTTL)
	}

	if c.AudioFrameSamples <= 0 {
		return fmt.Errorf("AUDIO_FRAME_SAMPLES must be positive, got %d", c.AudioFrameSamples)
	}
	// The ring buffer keeps one slot free, so it must hold a full frame plus one byte.
	if c.AudioBufferSize <= c.FrameBytes() {
		return fmt.Errorf("AUDIO_BUFFER_SIZE (%d) must exceed one frame (%d bytes)", c.AudioBufferSize, c.FrameBytes())
	}

	return nil
}

// FrameBytes returns the size in bytes of one PCM16 mono frame
func (c *Config) FrameBytes() int {
	return c.AudioFrameSamples * 2
}

// Roles returns the configured speaker role names
func (c *Config) Roles() []string {
	return splitList(c.SpeakerRoles)
}

// Brokers returns the configured Kafka broker addresses
func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
