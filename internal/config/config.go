// Package config loads the thermostat configuration from configs/config.yml,
// THERMOSTAT_* environment variables and an optional .env credentials file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "THERMOSTAT"

// Config is the full runtime configuration.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Port      string          `mapstructure:"port"`
	CORS      []string        `mapstructure:"cors_origins"`
	Device    DeviceConfig    `mapstructure:"device"`
	WiFi      WiFiConfig      `mapstructure:"wifi"`
	Network   BackoffConfig   `mapstructure:"network"`
	Cloud     CloudConfig     `mapstructure:"cloud"`
	Sensor    SensorConfig    `mapstructure:"sensor"`
	Reporting ReportingConfig `mapstructure:"reporting"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Influx    InfluxConfig    `mapstructure:"influx"`
	Mailgun   MailgunConfig   `mapstructure:"mailgun"`
}

type DeviceConfig struct {
	ID string `mapstructure:"id"`
}

// WiFiConfig names the network the device must be associated with. Association
// itself is done by the OS; the agent only waits for Interface to get an address.
type WiFiConfig struct {
	SSID      string `mapstructure:"ssid"`
	Password  string `mapstructure:"password"`
	Interface string `mapstructure:"interface"`
}

// BackoffConfig bounds the wait for network readiness.
type BackoffConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type CloudConfig struct {
	Broker              string        `mapstructure:"broker"`
	AppKey              string        `mapstructure:"app_key"`
	AppSecret           string        `mapstructure:"app_secret"`
	TopicPrefix         string        `mapstructure:"topic_prefix"`
	RestoreDeviceStates bool          `mapstructure:"restore_device_states"`
	SendTimeout         time.Duration `mapstructure:"send_timeout"`
}

type SensorConfig struct {
	Model string `mapstructure:"model"` // DHT11 | DHT22 | fake
	Pin   int    `mapstructure:"pin"`   // BCM GPIO number
}

type ReportingConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	Tolerance        float64       `mapstructure:"tolerance"` // 0 = exact equality
	PumpInterval     time.Duration `mapstructure:"pump_interval"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Retry            RetryConfig   `mapstructure:"retry"`
}

// RetryConfig is the delay after a failed sample or send. A zero Initial
// retries on the next loop iteration.
type RetryConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
}

type JournalConfig struct {
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"` // 0 keeps everything
}

type AuthConfig struct {
	Username     string        `mapstructure:"username"`
	PasswordHash string        `mapstructure:"password_hash"` // bcrypt
	SigningKey   string        `mapstructure:"signing_key"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

type MailgunConfig struct {
	Domain     string   `mapstructure:"domain"`
	APIKey     string   `mapstructure:"api_key"`
	Sender     string   `mapstructure:"sender"`
	Recipients []string `mapstructure:"recipients"`
}

var defaults = map[string]any{
	"log_level":                   "info",
	"port":                        "8080",
	"cors_origins":                []string{},
	"device.id":                   "",
	"wifi.ssid":                   "",
	"wifi.password":               "",
	"wifi.interface":              "wlan0",
	"network.initial_delay":       250 * time.Millisecond,
	"network.max_delay":           30 * time.Second,
	"network.multiplier":          2.0,
	"network.max_retries":         20,
	"cloud.broker":                "",
	"cloud.app_key":               "",
	"cloud.app_secret":            "",
	"cloud.topic_prefix":          "thermostat",
	"cloud.restore_device_states": true,
	"cloud.send_timeout":          5 * time.Second,
	"sensor.model":                "DHT11",
	"sensor.pin":                  14,
	"reporting.interval":          60 * time.Second,
	"reporting.tolerance":         0.0,
	"reporting.pump_interval":     50 * time.Millisecond,
	"reporting.failure_threshold": 10,
	"reporting.retry.initial":     time.Duration(0),
	"reporting.retry.max":         time.Duration(0),
	"reporting.retry.multiplier":  2.0,
	"journal.path":                "thermostat.db",
	"journal.retention":           7 * 24 * time.Hour,
	"auth.username":               "admin",
	"auth.password_hash":          "",
	"auth.signing_key":            "",
	"auth.token_ttl":              time.Hour,
	"influx.url":                  "",
	"influx.token":                "",
	"influx.org":                  "",
	"influx.bucket":               "thermostat",
	"mailgun.domain":              "",
	"mailgun.api_key":             "",
	"mailgun.sender":              "",
	"mailgun.recipients":          []string{},
}

// Load reads configs/config.yml from each of searchPaths (the first match
// wins), then applies .env and THERMOSTAT_* overrides. A missing config file
// is not an error; a missing device id is.
func Load(envFile string, searchPaths ...string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigName("config")
	v.SetConfigType("yml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the device cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Device.ID) == "" {
		errs = append(errs, errors.New("device.id is required"))
	}
	if c.Reporting.Interval <= 0 {
		errs = append(errs, errors.New("reporting.interval must be positive"))
	}
	if c.Reporting.Tolerance < 0 {
		errs = append(errs, errors.New("reporting.tolerance must not be negative"))
	}
	if c.Reporting.PumpInterval <= 0 {
		errs = append(errs, errors.New("reporting.pump_interval must be positive"))
	}
	switch strings.ToUpper(c.Sensor.Model) {
	case "DHT11", "DHT22", "FAKE":
	default:
		errs = append(errs, fmt.Errorf("sensor.model %q is not one of DHT11, DHT22, fake", c.Sensor.Model))
	}
	if c.Network.MaxRetries <= 0 {
		errs = append(errs, errors.New("network.max_retries must be positive"))
	}
	return errors.Join(errs...)
}
