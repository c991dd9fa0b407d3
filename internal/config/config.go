package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/keypair/internal/errors"
	"github.com/systmms/keypair/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. KEYPAIR_STORE_TYPE.
const EnvPrefix = "KEYPAIR"

// Defaults applied after the file and environment layers.
const (
	DefaultStoreType           = "aws.secretsmanager"
	DefaultStoreTimeout        = 3 * time.Second
	DefaultCallbackTimeout     = 5 * time.Second
	DefaultCallbackMaxAttempts = 3
	DefaultCallbackInitialWait = 250 * time.Millisecond
	DefaultCallbackReserve     = 2 * time.Second
	DefaultMetricsJob          = "keypair"
	DefaultMetricsTimeout      = time.Second
)

// SupportedStoreTypes lists the values accepted for store.type.
var SupportedStoreTypes = []string{
	"aws.secretsmanager",
	"aws",
	"gcp.secretmanager",
	"gcp",
	"memory",
}

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition is the keypair.yaml structure. Every field can be overridden
// from the environment, which is how the Lambda is configured.
type Definition struct {
	Version  int            `yaml:"version" ignored:"true"`
	Store    StoreConfig    `yaml:"store" envconfig:"STORE"`
	Callback CallbackConfig `yaml:"callback" envconfig:"CALLBACK"`
	Metrics  MetricsConfig  `yaml:"metrics" envconfig:"METRICS"`
	Debug    bool           `yaml:"debug" envconfig:"DEBUG"`
	NoColor  bool           `yaml:"no_color" envconfig:"NO_COLOR"`
}

// StoreConfig selects and configures the secret store backend
type StoreConfig struct {
	Type    string        `yaml:"type" envconfig:"TYPE"`
	Timeout time.Duration `yaml:"timeout,omitempty" envconfig:"TIMEOUT"`

	// AWS
	Region          string `yaml:"region,omitempty" envconfig:"REGION"`
	Endpoint        string `yaml:"endpoint,omitempty" envconfig:"ENDPOINT"` // LocalStack
	AccessKeyID     string `yaml:"access_key_id,omitempty" envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" envconfig:"SECRET_ACCESS_KEY"`

	// GCP
	ProjectID       string `yaml:"project_id,omitempty" envconfig:"PROJECT_ID"`
	CredentialsFile string `yaml:"credentials_file,omitempty" envconfig:"CREDENTIALS_FILE"`

	Tags map[string]string `yaml:"tags,omitempty" envconfig:"TAGS"`
}

// CallbackConfig controls delivery of the outcome to the orchestrator
type CallbackConfig struct {
	Timeout     time.Duration `yaml:"timeout,omitempty" envconfig:"TIMEOUT"`
	MaxAttempts int           `yaml:"max_attempts,omitempty" envconfig:"MAX_ATTEMPTS"`
	InitialWait time.Duration `yaml:"initial_wait,omitempty" envconfig:"INITIAL_WAIT"`

	// Reserve is kept back from the invocation deadline so the callback
	// can still be sent after a slow store call.
	Reserve time.Duration `yaml:"reserve,omitempty" envconfig:"RESERVE"`
}

// MetricsConfig controls how counters leave the process after each event.
// Without a push gateway they are written to the log.
type MetricsConfig struct {
	PushGateway string        `yaml:"push_gateway,omitempty" envconfig:"PUSH_GATEWAY"`
	Job         string        `yaml:"job,omitempty" envconfig:"JOB"`
	Timeout     time.Duration `yaml:"timeout,omitempty" envconfig:"TIMEOUT"`
}

// Load reads the optional YAML file, applies KEYPAIR_* environment
// overrides, fills defaults and validates the result.
func (c *Config) Load() error {
	var def Definition

	if c.Path != "" {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return dserrors.ConfigError{
					Field:      "path",
					Value:      c.Path,
					Message:    "configuration file not found",
					Suggestion: "Omit --config to configure from KEYPAIR_* environment variables only",
				}
			}
			return dserrors.UserError{
				Message:    "Failed to read configuration file",
				Details:    err.Error(),
				Suggestion: "Check file permissions and path",
				Err:        err,
			}
		}

		if err := yaml.Unmarshal(data, &def); err != nil {
			return dserrors.ConfigError{
				Message:    "invalid YAML syntax in configuration file",
				Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
			}
		}

		if def.Version != 0 {
			return dserrors.ConfigError{
				Field:      "version",
				Value:      def.Version,
				Message:    "unsupported configuration version",
				Suggestion: "Set 'version: 0' at the top of your keypair.yaml file",
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, &def); err != nil {
		return dserrors.ConfigError{
			Message:    fmt.Sprintf("invalid environment override: %v", err),
			Suggestion: "Check KEYPAIR_* variables; durations use Go syntax such as 3s or 250ms",
		}
	}

	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return err
	}

	c.Definition = &def
	return nil
}

func (d *Definition) applyDefaults() {
	if d.Store.Type == "" {
		d.Store.Type = DefaultStoreType
	}
	if d.Store.Timeout == 0 {
		d.Store.Timeout = DefaultStoreTimeout
	}
	if d.Store.ProjectID == "" && IsGCP(d.Store.Type) {
		d.Store.ProjectID = gcpProjectFromEnv()
	}
	if d.Callback.Timeout == 0 {
		d.Callback.Timeout = DefaultCallbackTimeout
	}
	if d.Callback.MaxAttempts == 0 {
		d.Callback.MaxAttempts = DefaultCallbackMaxAttempts
	}
	if d.Callback.InitialWait == 0 {
		d.Callback.InitialWait = DefaultCallbackInitialWait
	}
	if d.Callback.Reserve == 0 {
		d.Callback.Reserve = DefaultCallbackReserve
	}
	if d.Metrics.Job == "" {
		d.Metrics.Job = DefaultMetricsJob
	}
	if d.Metrics.Timeout == 0 {
		d.Metrics.Timeout = DefaultMetricsTimeout
	}
}

// Validate checks the definition after defaults have been applied
func (d *Definition) Validate() error {
	if !isSupportedStore(d.Store.Type) {
		return dserrors.ConfigError{
			Field:      "store.type",
			Value:      d.Store.Type,
			Message:    "unsupported secret store type",
			Suggestion: "Use one of: " + strings.Join(SupportedStoreTypes, ", "),
		}
	}
	if IsGCP(d.Store.Type) && d.Store.ProjectID == "" {
		return dserrors.ConfigError{
			Field:      "store.project_id",
			Message:    "project_id is required for GCP Secret Manager",
			Suggestion: "Set store.project_id, KEYPAIR_STORE_PROJECT_ID or GOOGLE_CLOUD_PROJECT",
		}
	}
	if (d.Store.AccessKeyID == "") != (d.Store.SecretAccessKey == "") {
		return dserrors.ConfigError{
			Field:      "store.access_key_id",
			Message:    "access_key_id and secret_access_key must be set together",
			Suggestion: "Static credentials are meant for LocalStack; leave both empty to use the default AWS chain",
		}
	}
	if d.Metrics.PushGateway != "" {
		u, err := url.Parse(d.Metrics.PushGateway)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return dserrors.ConfigError{
				Field:      "metrics.push_gateway",
				Value:      d.Metrics.PushGateway,
				Message:    "push_gateway must be an http or https URL",
				Suggestion: "Use the gateway base URL, e.g. http://pushgateway:9091",
			}
		}
	}
	if d.Store.Timeout < 0 || d.Callback.Timeout < 0 || d.Callback.InitialWait < 0 || d.Callback.Reserve < 0 || d.Metrics.Timeout < 0 {
		return dserrors.ConfigError{
			Message: "timeouts must not be negative",
		}
	}
	if d.Callback.MaxAttempts < 1 || d.Callback.MaxAttempts > 10 {
		return dserrors.ConfigError{
			Field:      "callback.max_attempts",
			Value:      d.Callback.MaxAttempts,
			Message:    "max_attempts must be between 1 and 10",
			Suggestion: "The orchestrator waits on one callback; keep retries short",
		}
	}
	return nil
}

// IsGCP reports whether storeType selects Google Cloud Secret Manager
func IsGCP(storeType string) bool {
	return storeType == "gcp" || storeType == "gcp.secretmanager"
}

// IsAWS reports whether storeType selects AWS Secrets Manager
func IsAWS(storeType string) bool {
	return storeType == "aws" || storeType == "aws.secretsmanager"
}

func isSupportedStore(storeType string) bool {
	for _, t := range SupportedStoreTypes {
		if t == storeType {
			return true
		}
	}
	return false
}

func gcpProjectFromEnv() string {
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
