package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SUPPORT_BOT"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Breaker   BreakersConfig  `mapstructure:"breaker"`
	Session   SessionConfig   `mapstructure:"session"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Replies   RepliesConfig   `mapstructure:"replies"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Tickets   TicketsConfig   `mapstructure:"tickets"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Log       LogConfig       `mapstructure:"log"`
	OTel      OTelConfig      `mapstructure:"otel"`

	// v is kept for config file watching.
	v *viper.Viper
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// AckTimeout bounds the webhook acknowledgment path.
	AckTimeout   time.Duration `mapstructure:"ack_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type DeliveryConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
}

type BreakerConfig struct {
	Threshold    int           `mapstructure:"threshold"`
	OpenDuration time.Duration `mapstructure:"open_duration"`
}

type BreakersConfig struct {
	Platform   BreakerConfig `mapstructure:"platform"`
	Generation BreakerConfig `mapstructure:"generation"`
}

type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type CacheConfig struct {
	TTL  time.Duration `mapstructure:"ttl"`
	Size int           `mapstructure:"size"`
}

type DedupConfig struct {
	Retention time.Duration `mapstructure:"retention"`
	Size      int           `mapstructure:"size"`
}

type DispatchConfig struct {
	MailboxSize      int           `mapstructure:"mailbox_size"`
	MaxInFlight      int           `mapstructure:"max_in_flight"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
	JobTimeout       time.Duration `mapstructure:"job_timeout"`
}

type RepliesConfig struct {
	Apology         string `mapstructure:"apology"`
	TicketPrompt    string `mapstructure:"ticket_prompt"`
	TicketCreated   string `mapstructure:"ticket_created"`
	TicketFailed    string `mapstructure:"ticket_failed"`
	TicketCancelled string `mapstructure:"ticket_cancelled"`
}

type PlatformConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	AppID             string `mapstructure:"app_id"`
	AppSecret         string `mapstructure:"app_secret"`
	VerificationToken string `mapstructure:"verification_token"`
	// EncryptKey enables request signature checks when set.
	EncryptKey string `mapstructure:"encrypt_key"`
	// DryRun logs outbound messages instead of calling the platform.
	DryRun bool `mapstructure:"dry_run"`
}

type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type TicketsConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AnalyticsConfig struct {
	// Backend is one of gochannel, amqp, kafka or none.
	Backend        string        `mapstructure:"backend"`
	Topic          string        `mapstructure:"topic"`
	QueueSize      int           `mapstructure:"queue_size"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type AMQPConfig struct {
	URL string `mapstructure:"url"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	OTel  bool   `mapstructure:"otel"`
}

type OTelConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoadConfig reads defaults, the optional YAML file at path and SUPPORT_BOT_* env overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// [DEFAULTS] Scalar defaults live on a flag set so they are self-documenting.
	if err := v.BindPFlags(flagSet()); err != nil {
		return nil, fmt.Errorf("config: bind defaults: %w", err)
	}
	setRuleDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.AckTimeout <= 0 {
		errs = append(errs, errors.New("server.ack_timeout must be positive"))
	}
	if c.Delivery.MaxAttempts < 1 {
		errs = append(errs, errors.New("delivery.max_attempts must be at least 1"))
	}
	if c.Breaker.Platform.Threshold < 1 || c.Breaker.Generation.Threshold < 1 {
		errs = append(errs, errors.New("breaker thresholds must be at least 1"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Dispatch.MailboxSize < 1 || c.Dispatch.MaxInFlight < 1 {
		errs = append(errs, errors.New("dispatch.mailbox_size and dispatch.max_in_flight must be at least 1"))
	}
	switch c.Analytics.Backend {
	case AnalyticsGoChannel, AnalyticsNone:
	case AnalyticsAMQP:
		if c.AMQP.URL == "" {
			errs = append(errs, errors.New("amqp.url is required for the amqp analytics backend"))
		}
	case AnalyticsKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required for the kafka analytics backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown analytics.backend %q", c.Analytics.Backend))
	}
	if !c.Platform.DryRun && (c.Platform.AppID == "" || c.Platform.AppSecret == "") {
		errs = append(errs, errors.New("platform.app_id and platform.app_secret are required unless platform.dry_run is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

const (
	AnalyticsGoChannel = "gochannel"
	AnalyticsAMQP      = "amqp"
	AnalyticsKafka     = "kafka"
	AnalyticsNone      = "none"
)

func flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("im-support-bot", pflag.ContinueOnError)

	fs.String("server.addr", ":8080", "webhook listen address")
	fs.Duration("server.ack_timeout", 2500*time.Millisecond, "budget for acknowledging a webhook")
	fs.Int64("server.max_body_bytes", 1<<20, "maximum accepted webhook body size")

	fs.Duration("delivery.timeout", 8*time.Second, "per-attempt platform send timeout")
	fs.Int("delivery.max_attempts", 3, "platform send attempts before giving up")
	fs.Duration("delivery.backoff_base", 200*time.Millisecond, "initial retry backoff")
	fs.Duration("delivery.backoff_max", 5*time.Second, "maximum retry backoff")

	fs.Int("breaker.platform.threshold", 5, "consecutive platform failures that open the breaker")
	fs.Duration("breaker.platform.open_duration", 30*time.Second, "time the platform breaker stays open")
	fs.Int("breaker.generation.threshold", 3, "consecutive generation failures that open the breaker")
	fs.Duration("breaker.generation.open_duration", time.Minute, "time the generation breaker stays open")

	fs.Duration("session.ttl", 30*time.Minute, "conversation session inactivity TTL")
	fs.Duration("session.sweep_interval", time.Minute, "how often expired sessions are evicted")

	fs.Duration("cache.ttl", 24*time.Hour, "response cache TTL")
	fs.Int("cache.size", 4096, "response cache capacity")

	fs.Duration("dedup.retention", 6*time.Hour, "how long delivered event ids are remembered")
	fs.Int("dedup.size", 100000, "dedup set capacity")

	fs.Int("dispatch.mailbox_size", 64, "queued events per conversation")
	fs.Int("dispatch.max_in_flight", 128, "events processed concurrently across conversations")
	fs.Duration("dispatch.idle_timeout", 5*time.Minute, "idle time before a conversation worker is retired")
	fs.Duration("dispatch.eviction_interval", time.Minute, "how often idle conversation workers are checked")
	fs.Duration("dispatch.job_timeout", 2*time.Minute, "upper bound for processing one event")

	fs.String("replies.apology", "Sorry, I can't answer that right now. Please try again in a moment.", "canned reply on generation failure")
	fs.String("replies.ticket_prompt", "I'll open a support ticket for you. Please describe the problem in more detail (what happens, when, and any error text).", "ticket flow prompt")
	fs.String("replies.ticket_created", "Thanks! Your ticket %s has been created. Our support team will contact you soon.", "ticket confirmation, %s is the ticket id")
	fs.String("replies.ticket_failed", "Sorry, I couldn't create your ticket. Please contact support directly.", "reply when ticket persistence fails")
	fs.String("replies.ticket_cancelled", "Okay, I've cancelled the ticket request.", "reply when the user cancels the flow")

	fs.String("platform.base_url", "https://open.larksuite.com/open-apis", "chat platform API base URL")
	fs.String("platform.app_id", "", "platform application id")
	fs.String("platform.app_secret", "", "platform application secret")
	fs.String("platform.verification_token", "", "expected webhook verification token")
	fs.String("platform.encrypt_key", "", "key used to verify webhook request signatures")
	fs.Bool("platform.dry_run", false, "log outbound messages instead of sending them")

	fs.String("llm.base_url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	fs.String("llm.api_key", "", "generation API key")
	fs.String("llm.model", "gpt-4o-mini", "generation model")
	fs.String("llm.system_prompt", "You are a concise, friendly IT helpdesk assistant.", "system prompt for generation")
	fs.Duration("llm.timeout", 30*time.Second, "generation call timeout")

	fs.Duration("tickets.timeout", 5*time.Second, "ticket persistence timeout")

	fs.String("postgres.dsn", "", "postgres DSN for tickets and analytics rows")

	fs.String("analytics.backend", AnalyticsGoChannel, "analytics transport: gochannel, amqp, kafka or none")
	fs.String("analytics.topic", "im_support.analytics", "analytics topic / exchange")
	fs.Int("analytics.queue_size", 1024, "buffered analytics events before dropping")
	fs.Duration("analytics.publish_timeout", 5*time.Second, "analytics publish timeout")

	fs.String("amqp.url", "", "RabbitMQ URL for the amqp analytics backend")
	fs.StringSlice("kafka.brokers", nil, "Kafka brokers for the kafka analytics backend")
	fs.String("kafka.topic", "im-support-analytics", "Kafka topic for analytics")

	fs.String("log.level", "info", "log level: debug, info, warn, error")
	fs.Bool("log.otel", false, "also emit logs through the OpenTelemetry bridge")

	fs.Bool("otel.enabled", false, "enable tracing")
	fs.Float64("otel.sample_ratio", 1, "trace sampling ratio")

	return fs
}
