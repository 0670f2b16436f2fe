package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration is the full process configuration, loaded from the environment.
type Configuration struct {
	Service       ServiceConfig
	ElevenLabs    ElevenLabsConfig
	Credential    CredentialConfig
	Session       SessionConfig
	Agents        AgentsConfig
	Kafka         KafkaConfig
	Leads         LeadsConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal string
	HTTPPort  string
	GRPCPort  string
	// Bearer tokens accepted by the credential endpoint (site anon keys).
	SiteKeys []string
	// Origins allowed to open the HUD WebSocket. Empty allows any.
	AllowedOrigins []string
}

type ElevenLabsConfig struct {
	APIKey    string
	BaseURL   string
	BaseWSURL string
}

// CredentialConfig points the session controller at the trusted backend that
// issues signed conversation URLs.
type CredentialConfig struct {
	EndpointURL string
	BearerToken string
	Timeout     time.Duration
}

type SessionConfig struct {
	Provider        string // elevenlabs, mock
	ReadyTimeout    time.Duration
	PollInterval    time.Duration
	DragThreshold   float64
	MediaTimeout    time.Duration
	FirstMessage    string
	Language        string
	QuietAfterAudio time.Duration
}

// AgentsConfig selects the agent table. File is an optional YAML file; the
// per-route ids override whatever the table holds.
type AgentsConfig struct {
	File         string
	HubID        string
	SteakhouseID string
	SushiID      string
	TrattoriaID  string
	TaqueriaID   string
}

type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicSession string
	TopicLead    string
	Principal    string
}

type LeadsConfig struct {
	FormsBaseURL string
	PortalID     string
	FormGUID     string
	QuoteURL     string
	QuoteToken   string
	Timeout      time.Duration
}

type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads the configuration from environment variables. Values that fail
// to parse fall back to their defaults.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-hud")

	return &Configuration{
		Service: ServiceConfig{
			Principal:      principal,
			HTTPPort:       envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:       envOrDefault("GRPC_PORT", "50051"),
			SiteKeys:       envOrDefaultList("SITE_KEYS", nil),
			AllowedOrigins: envOrDefaultList("HUD_ALLOWED_ORIGINS", nil),
		},
		ElevenLabs: ElevenLabsConfig{
			APIKey:    envOrDefault("ELEVENLABS_API_KEY", ""),
			BaseURL:   envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
			BaseWSURL: envOrDefault("ELEVENLABS_WS_URL", "wss://api.elevenlabs.io/v1/convai/conversation"),
		},
		Credential: CredentialConfig{
			EndpointURL: envOrDefault("CREDENTIAL_ENDPOINT_URL", "http://localhost:8080/v1/conversation-token"),
			BearerToken: envOrDefault("CREDENTIAL_BEARER_TOKEN", ""),
			Timeout:     envOrDefaultDuration("CREDENTIAL_TIMEOUT", 10*time.Second),
		},
		Session: SessionConfig{
			Provider:        envOrDefault("VOICE_PROVIDER", "mock"),
			ReadyTimeout:    envOrDefaultDuration("SESSION_READY_TIMEOUT", 10*time.Second),
			PollInterval:    envOrDefaultDuration("SESSION_POLL_INTERVAL", 100*time.Millisecond),
			DragThreshold:   envOrDefaultFloat("HUD_DRAG_THRESHOLD", 100),
			MediaTimeout:    envOrDefaultDuration("HUD_MEDIA_TIMEOUT", 30*time.Second),
			FirstMessage:    envOrDefault("SESSION_FIRST_MESSAGE", ""),
			Language:        envOrDefault("SESSION_LANGUAGE", "en"),
			QuietAfterAudio: envOrDefaultDuration("SESSION_QUIET_AFTER_AUDIO", 600*time.Millisecond),
		},
		Agents: AgentsConfig{
			File:         envOrDefault("AGENTS_FILE", ""),
			HubID:        envOrDefault("AGENT_ID_HUB", ""),
			SteakhouseID: envOrDefault("AGENT_ID_STEAKHOUSE", ""),
			SushiID:      envOrDefault("AGENT_ID_SUSHI", ""),
			TrattoriaID:  envOrDefault("AGENT_ID_TRATTORIA", ""),
			TaqueriaID:   envOrDefault("AGENT_ID_TAQUERIA", ""),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicSession: envOrDefault("KAFKA_TOPIC_SESSION", "voice.session.events"),
			TopicLead:    envOrDefault("KAFKA_TOPIC_LEAD", "site.lead.events"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Leads: LeadsConfig{
			FormsBaseURL: envOrDefault("LEADS_FORMS_BASE_URL", "https://api.hsforms.com/submissions/v3/integration/submit"),
			PortalID:     envOrDefault("LEADS_PORTAL_ID", ""),
			FormGUID:     envOrDefault("LEADS_FORM_GUID", ""),
			QuoteURL:     envOrDefault("LEADS_QUOTE_URL", ""),
			QuoteToken:   envOrDefault("LEADS_QUOTE_TOKEN", ""),
			Timeout:      envOrDefaultDuration("LEADS_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// envOrDefaultList splits a comma separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
