package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// HTTPConfig holds shared HTTP settings used by resolvers and the engine.
type HTTPConfig struct {
	// Timeout bounds connection setup and response headers. Body streaming
	// is bounded by cancellation, not by this value.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`

	// UserAgent is the default client identity (e.g. "paperfetch/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent" validate:"required"`

	// BrowserUserAgent is the alternate identity tried once when a gateway
	// rejects the default client.
	BrowserUserAgent string `json:"browser_user_agent" yaml:"browser_user_agent" mapstructure:"browser_user_agent" validate:"required"`

	// Mailto is the contact address sent to Crossref and OpenAlex so
	// requests land in their polite pools.
	Mailto string `json:"mailto,omitempty" yaml:"mailto,omitempty" mapstructure:"mailto" validate:"omitempty,email"`
}

// QueueConfig holds settings for the persistent work queue.
type QueueConfig struct {
	// DBPath is the SQLite database file.
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path" validate:"required"`

	// MaxRetries is the number of transient failures after which an item
	// becomes terminally failed.
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`

	// BackoffBase is the delay before the first retry; it doubles per attempt.
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base" mapstructure:"backoff_base" validate:"gte=0"`

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration `json:"backoff_max" yaml:"backoff_max" mapstructure:"backoff_max" validate:"gtefield=BackoffBase"`
}

// EngineConfig holds settings for the download engine.
type EngineConfig struct {
	// OutDir receives completed files; partial files live in OutDir/.partial.
	OutDir string `json:"out_dir" yaml:"out_dir" mapstructure:"out_dir" validate:"required"`

	// Workers is the number of concurrent transfers.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers" validate:"gte=1,lte=64"`

	// GracePeriod is how long running transfers may continue after an
	// interrupt before they are aborted.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period" mapstructure:"grace_period" validate:"gte=0"`

	// PollInterval bounds how long an idle worker sleeps while items wait
	// on a backoff gate.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval" validate:"gt=0"`

	// ProgressInterval and ProgressIntervalBytes control how often
	// transfer progress is persisted; whichever comes first wins.
	ProgressInterval      time.Duration `json:"progress_interval" yaml:"progress_interval" mapstructure:"progress_interval" validate:"gt=0"`
	ProgressIntervalBytes int64         `json:"progress_interval_bytes" yaml:"progress_interval_bytes" mapstructure:"progress_interval_bytes" validate:"gt=0"`

	// WriteMetadata writes a YAML sidecar next to each completed file.
	WriteMetadata bool `json:"write_metadata" yaml:"write_metadata" mapstructure:"write_metadata"`
}

// ResolveConfig holds settings for the resolver chain.
type ResolveConfig struct {
	// MaxRedirects bounds resolver-to-resolver hops.
	MaxRedirects int `json:"max_redirects" yaml:"max_redirects" mapstructure:"max_redirects" validate:"gte=0,lte=32"`

	// ReferenceMinScore is the minimum Crossref relevance score accepted
	// when matching a free-text reference.
	ReferenceMinScore float64 `json:"reference_min_score" yaml:"reference_min_score" mapstructure:"reference_min_score" validate:"gte=0"`
}

// AuthConfig holds the login-page heuristic. The pattern list is
// environment specific, so it is configuration rather than code.
type AuthConfig struct {
	// LoginPathPatterns are regular expressions matched against the final
	// URL path (and query) of an HTML response.
	LoginPathPatterns []string `json:"login_path_patterns" yaml:"login_path_patterns" mapstructure:"login_path_patterns" validate:"dive,required"`

	// BinaryExtensions are URL path extensions that imply a binary payload.
	BinaryExtensions []string `json:"binary_extensions" yaml:"binary_extensions" mapstructure:"binary_extensions" validate:"dive,startswith=."`
}

// LogConfig selects zerolog output.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `json:"format" yaml:"format" mapstructure:"format" validate:"oneof=console json"`
}

// Config groups all settings.
type Config struct {
	Log     LogConfig     `json:"log" yaml:"log" mapstructure:"log"`
	HTTP    HTTPConfig    `json:"http" yaml:"http" mapstructure:"http"`
	Queue   QueueConfig   `json:"queue" yaml:"queue" mapstructure:"queue"`
	Engine  EngineConfig  `json:"engine" yaml:"engine" mapstructure:"engine"`
	Resolve ResolveConfig `json:"resolve" yaml:"resolve" mapstructure:"resolve"`
	Auth    AuthConfig    `json:"auth" yaml:"auth" mapstructure:"auth"`
}

// DefaultUserAgent identifies paperfetch to servers.
const DefaultUserAgent = "paperfetch/0.1"

// DefaultBrowserUserAgent is the alternate identity for gateways that
// block non-browser clients.
const DefaultBrowserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "console"},
		HTTP: HTTPConfig{
			Timeout:          60 * time.Second,
			UserAgent:        DefaultUserAgent,
			BrowserUserAgent: DefaultBrowserUserAgent,
		},
		Queue: QueueConfig{
			DBPath:      "papers/queue.db",
			MaxRetries:  3,
			BackoffBase: 5 * time.Second,
			BackoffMax:  5 * time.Minute,
		},
		Engine: EngineConfig{
			OutDir:                "papers",
			Workers:               4,
			GracePeriod:           10 * time.Second,
			PollInterval:          2 * time.Second,
			ProgressInterval:      time.Second,
			ProgressIntervalBytes: 256 * 1024,
			WriteMetadata:         true,
		},
		Resolve: ResolveConfig{
			MaxRedirects:      5,
			ReferenceMinScore: 60,
		},
		Auth: AuthConfig{
			LoginPathPatterns: []string{
				`(?i)/(login|signin|sign-in|sso|auth|idp|shibboleth|cas|saml)(/|$|\?)`,
				`(?i)/(wayf|institutional-login|openathens)`,
				`(?i)[?&](returnurl|redirect_uri|target)=`,
			},
			BinaryExtensions: []string{".pdf", ".epub", ".djvu", ".ps", ".gz", ".zip"},
		},
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and returns one error listing every
// violation.
func (c Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
