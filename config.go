package elmax

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration of a program built on this library.
// It is loaded from YAML and can be overridden by ELMAX_* environment variables.
type Config struct {
	Mode      string        `yaml:"mode"` // cloud or local
	Cloud     CloudConfig   `yaml:"cloud"`
	Local     LocalConfig   `yaml:"local"`
	Panel     PanelConfig   `yaml:"panel"`
	HTTP      HTTPConfig    `yaml:"http"`
	Push      PushConfig    `yaml:"push"`
	TokenFile string        `yaml:"token_file"`
	Logging   LoggingConfig `yaml:"logging"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
}

// CloudConfig contains the cloud API credentials.
type CloudConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LocalConfig contains the settings for direct panel access.
type LocalConfig struct {
	APIURL   string `yaml:"api_url"`
	PIN      string `yaml:"pin"`
	CertFile string `yaml:"cert_file"` // PEM certificate to pin
}

// PanelConfig selects the current panel in cloud mode.
type PanelConfig struct {
	ID  string `yaml:"id"`
	PIN string `yaml:"pin"`
}

// HTTPConfig contains request settings. Durations are in seconds.
type HTTPConfig struct {
	Timeout       int `yaml:"timeout"`
	BusyWait      int `yaml:"busy_wait"`
	RetryAttempts int `yaml:"retry_attempts"`
}

// PushConfig contains push channel settings.
type PushConfig struct {
	Endpoint  string `yaml:"endpoint"`   // defaults to the local panel push URL
	ErrorWait int    `yaml:"error_wait"` // seconds
}

// MQTTConfig contains the settings of the MQTT bridge.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	Retain      bool             `yaml:"retain"`
	TopicPrefix string           `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoadConfig reads configuration from a YAML file, applies environment
// overrides and validates the result. An empty path skips the file and
// starts from defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a Config with the library defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeCloud.String(),
		Cloud: CloudConfig{
			BaseURL: DefaultBaseURL,
		},
		Panel: PanelConfig{
			PIN: DefaultPanelPIN,
		},
		HTTP: HTTPConfig{
			Timeout:       int(DefaultTimeout / time.Second),
			BusyWait:      int(DefaultBusyWaitInterval / time.Second),
			RetryAttempts: DefaultRetryAttempts,
		},
		Push: PushConfig{
			ErrorWait: int(DefaultPushErrorWait / time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "elmax-bridge",
			},
			QoS:         1,
			Retain:      true,
			TopicPrefix: "elmax",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ELMAX_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ELMAX_MODE"); v != "" {
		cfg.Mode = v
	}

	// Cloud
	if v := os.Getenv("ELMAX_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("ELMAX_USERNAME"); v != "" {
		cfg.Cloud.Username = v
	}
	if v := os.Getenv("ELMAX_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}

	// Local
	if v := os.Getenv("ELMAX_LOCAL_API_URL"); v != "" {
		cfg.Local.APIURL = v
	}
	if v := os.Getenv("ELMAX_LOCAL_PIN"); v != "" {
		cfg.Local.PIN = v
	}
	if v := os.Getenv("ELMAX_LOCAL_CERT_FILE"); v != "" {
		cfg.Local.CertFile = v
	}

	// Panel
	if v := os.Getenv("ELMAX_PANEL_ID"); v != "" {
		cfg.Panel.ID = v
	}
	if v := os.Getenv("ELMAX_PANEL_PIN"); v != "" {
		cfg.Panel.PIN = v
	}

	if v := os.Getenv("ELMAX_PUSH_ENDPOINT"); v != "" {
		cfg.Push.Endpoint = v
	}
	if v := os.Getenv("ELMAX_TOKEN_FILE"); v != "" {
		cfg.TokenFile = v
	}
	if v := os.Getenv("ELMAX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// MQTT
	if v := os.Getenv("ELMAX_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ELMAX_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ELMAX_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Mode) {
	case "cloud":
		if c.Cloud.Username == "" {
			errs = append(errs, "cloud.username is required (set ELMAX_USERNAME)")
		}
		if c.Cloud.Password == "" {
			errs = append(errs, "cloud.password is required (set ELMAX_PASSWORD)")
		}
	case "local":
		if c.Local.APIURL == "" {
			errs = append(errs, "local.api_url is required (set ELMAX_LOCAL_API_URL)")
		}
		if c.Local.PIN == "" {
			errs = append(errs, "local.pin is required (set ELMAX_LOCAL_PIN)")
		}
	default:
		errs = append(errs, fmt.Sprintf("mode must be cloud or local, got %q", c.Mode))
	}

	if c.HTTP.Timeout <= 0 {
		errs = append(errs, "http.timeout must be positive")
	}
	if c.HTTP.BusyWait < 0 {
		errs = append(errs, "http.busy_wait cannot be negative")
	}
	if c.HTTP.RetryAttempts < 1 {
		errs = append(errs, "http.retry_attempts must be at least 1")
	}
	if c.Push.ErrorWait < 0 {
		errs = append(errs, "push.error_wait cannot be negative")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ClientMode returns the configured access mode.
func (c *Config) ClientMode() Mode {
	if strings.EqualFold(c.Mode, "local") {
		return ModeLocal
	}
	return ModeCloud
}

// ClientOptions returns the options described by the configuration.
func (c *Config) ClientOptions() ([]Option, error) {
	opts := []Option{
		WithTimeout(time.Duration(c.HTTP.Timeout) * time.Second),
		WithBusyWaitInterval(time.Duration(c.HTTP.BusyWait) * time.Second),
		WithLogger(NewLogger(c.Logging)),
	}

	if c.ClientMode() == ModeCloud && c.Cloud.BaseURL != "" {
		opts = append(opts, WithBaseURL(c.Cloud.BaseURL))
	}
	if c.TokenFile != "" {
		opts = append(opts, WithTokenStore(NewFileTokenStore(c.TokenFile)))
	}
	if c.Local.CertFile != "" {
		pemData, err := os.ReadFile(c.Local.CertFile)
		if err != nil {
			return nil, fmt.Errorf("reading panel certificate: %w", err)
		}
		tlsCfg, err := TLSConfigFromPEM(string(pemData))
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTLSConfig(tlsCfg))
	}
	return opts, nil
}

// NewClient builds a client from the configuration. In cloud mode the
// configured panel, if any, becomes the current panel.
func (c *Config) NewClient(extra ...Option) (*Client, error) {
	opts, err := c.ClientOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)

	if c.ClientMode() == ModeLocal {
		return NewLocalClient(c.Local.APIURL, c.Local.PIN, opts...)
	}

	client, err := NewClient(c.Cloud.Username, c.Cloud.Password, opts...)
	if err != nil {
		return nil, err
	}
	if c.Panel.ID != "" {
		if err := client.SetCurrentPanel(c.Panel.ID, c.Panel.PIN); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// NewPushHandler builds a push handler for client. The endpoint defaults to
// the local panel push URL when none is configured.
func (c *Config) NewPushHandler(client *Client, extra ...PushOption) (*PushNotificationHandler, error) {
	endpoint := c.Push.Endpoint
	if endpoint == "" {
		var err error
		if endpoint, err = client.PushEndpoint(); err != nil {
			return nil, fmt.Errorf("%w: set push.endpoint for cloud mode", ErrEmptyPushEndpoint)
		}
	}

	opts := append([]PushOption{WithPushErrorWait(time.Duration(c.Push.ErrorWait) * time.Second)}, extra...)
	return NewPushNotificationHandler(endpoint, client, opts...)
}

// RetryAttempts returns the configured number of command attempts.
func (c *Config) RetryAttempts() int {
	return c.HTTP.RetryAttempts
}
