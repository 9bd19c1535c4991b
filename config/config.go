// convertd/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	FFBin           string        `mapstructure:"FF_BIN"`
	MaxLogLines     int           `mapstructure:"MAX_LOG_LINES"`
	MaxLineSize     int64         `mapstructure:"MAX_LINE_SIZE"`
	ValidateTimeout time.Duration `mapstructure:"VALIDATE_TIMEOUT"`
	ValidateFrames  int           `mapstructure:"VALIDATE_FRAMES"`
	ProbeTimeout    time.Duration `mapstructure:"PROBE_TIMEOUT"`
	CancelGrace     time.Duration `mapstructure:"CANCEL_GRACE"`

	ThrottleEnable   bool    `mapstructure:"THROTTLE_ENABLE"`
	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	WebhookURL      string `mapstructure:"WEBHOOK_URL"`
	WebhookProgress bool   `mapstructure:"WEBHOOK_PROGRESS"`
	WebhookRetries  int    `mapstructure:"WEBHOOK_RETRIES"`

	AuthEnable    bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey       string `mapstructure:"AUTH_KEY"`
	Port          string `mapstructure:"PORT"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogJSON       bool   `mapstructure:"LOG_JSON"`
	MetricsEnable bool   `mapstructure:"METRICS_ENABLE"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("MAX_LOG_LINES", 5000)
	vp.SetDefault("MAX_LINE_SIZE", "1MB")
	vp.SetDefault("VALIDATE_TIMEOUT", "30s")
	vp.SetDefault("VALIDATE_FRAMES", 5)
	vp.SetDefault("PROBE_TIMEOUT", "15s")
	vp.SetDefault("CANCEL_GRACE", "100ms")
	vp.SetDefault("THROTTLE_ENABLE", false)
	vp.SetDefault("THROTTLE_CPU", 10.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "500MB")
	vp.SetDefault("WEBHOOK_URL", "")
	vp.SetDefault("WEBHOOK_PROGRESS", false)
	vp.SetDefault("WEBHOOK_RETRIES", 3)
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_JSON", false)
	vp.SetDefault("METRICS_ENABLE", true)

	vp.SetConfigName("convertd_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/convertd/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("CONVERTD")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
