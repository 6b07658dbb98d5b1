package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalid wraps every startup configuration failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	URL                string        `env:"MONITOR_URL" validate:"required,http_url"`
	ContainerName      string        `env:"CONTAINER_NAME" validate:"required"`
	CheckInterval      time.Duration `env:"CHECK_INTERVAL" validate:"min=5s"`
	SuccessCodes       []int         `env:"SUCCESS_CODES" validate:"required,min=1,dive,min=100,max=599"`
	RestartDelay       time.Duration `env:"RESTART_DELAY" validate:"min=0s"`
	ConnectTimeout     time.Duration `env:"CONNECTION_TIMEOUT" validate:"gt=0s"`
	MaxTimeout         time.Duration `env:"MAX_TIMEOUT" validate:"gtefield=ConnectTimeout"`
	RetryCount         int           `env:"RETRY_COUNT" validate:"min=1"`
	MaxRestartsPerHour int           `env:"MAX_RESTARTS_PER_HOUR" validate:"min=0"`
	NotifyWebhook      string        `env:"NOTIFY_WEBHOOK" validate:"omitempty,http_url"`
	LogLevel           string        `env:"LOG_LEVEL" validate:"oneof=ERROR WARN INFO DEBUG"`
	LogFormat          string        `env:"LOG_FORMAT" validate:"oneof=text json"`
	DockerHost         string        `env:"DOCKER_HOST" validate:"required"`
	StatePath          string        `env:"STATE_DB"`
	HTTPAddr           string        `env:"HTTP_ADDR"`
	TelegramToken      string        `env:"TELEGRAM_TOKEN" validate:"required_with=TelegramChatID"`
	TelegramChatID     string        `env:"TELEGRAM_CHAT_ID" validate:"required_with=TelegramToken"`
}

var defaults = map[string]string{
	"CHECK_INTERVAL":        "30",
	"SUCCESS_CODES":         "200,301,302",
	"RESTART_DELAY":         "60",
	"CONNECTION_TIMEOUT":    "5",
	"MAX_TIMEOUT":           "10",
	"RETRY_COUNT":           "3",
	"MAX_RESTARTS_PER_HOUR": "0",
	"LOG_LEVEL":             "INFO",
	"LOG_FORMAT":            "text",
	"DOCKER_HOST":           "unix:///var/run/docker.sock",
}

// Load reads the process environment, after merging a .env file from the
// working directory when one exists. Variables already set win over .env.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		URL:            strings.TrimSpace(v.GetString("MONITOR_URL")),
		ContainerName:  strings.TrimSpace(v.GetString("CONTAINER_NAME")),
		NotifyWebhook:  strings.TrimSpace(v.GetString("NOTIFY_WEBHOOK")),
		LogLevel:       strings.ToUpper(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		LogFormat:      strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
		DockerHost:     strings.TrimSpace(v.GetString("DOCKER_HOST")),
		StatePath:      strings.TrimSpace(v.GetString("STATE_DB")),
		HTTPAddr:       strings.TrimSpace(v.GetString("HTTP_ADDR")),
		TelegramToken:  strings.TrimSpace(v.GetString("TELEGRAM_TOKEN")),
		TelegramChatID: strings.TrimSpace(v.GetString("TELEGRAM_CHAT_ID")),
	}
	if cfg.LogLevel == "WARNING" {
		cfg.LogLevel = "WARN"
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CHECK_INTERVAL", &cfg.CheckInterval},
		{"RESTART_DELAY", &cfg.RestartDelay},
		{"CONNECTION_TIMEOUT", &cfg.ConnectTimeout},
		{"MAX_TIMEOUT", &cfg.MaxTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(v.GetString(d.key)); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, d.key, err)
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"RETRY_COUNT", &cfg.RetryCount},
		{"MAX_RESTARTS_PER_HOUR", &cfg.MaxRestartsPerHour},
	}
	for _, n := range ints {
		if *n.dst, err = strconv.Atoi(strings.TrimSpace(v.GetString(n.key))); err != nil {
			return Config{}, fmt.Errorf("%w: %s: not an integer: %q", ErrInvalid, n.key, v.GetString(n.key))
		}
	}

	if cfg.SuccessCodes, err = parseCodes(v.GetString("SUCCESS_CODES")); err != nil {
		return Config{}, fmt.Errorf("%w: SUCCESS_CODES: %v", ErrInvalid, err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct constraints and reports failures by env name.
func Validate(cfg Config) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		return fld.Name
	})
	_ = validate.RegisterValidation("http_url", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		if err != nil {
			return false
		}
		return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	})

	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	messages := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		rule := e.Tag()
		if e.Param() != "" {
			rule += "=" + e.Param()
		}
		messages = append(messages, fmt.Sprintf("%s failed %s (value: %v)", e.Field(), rule, e.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(messages, "; "))
}

const maxSeconds = math.MaxInt64 / int64(time.Second)

// parseDuration accepts bare integers as seconds, otherwise a Go duration.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty duration")
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if err != nil || secs > maxSeconds || secs < -maxSeconds {
			return 0, fmt.Errorf("duration %q out of range", raw)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

func parseCodes(raw string) ([]int, error) {
	seen := make(map[int]struct{})
	codes := make([]int, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", part)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes, nil
}

// IsSuccess reports whether code is one of the configured success codes.
func (c Config) IsSuccess(code int) bool {
	for _, ok := range c.SuccessCodes {
		if ok == code {
			return true
		}
	}
	return false
}

// Summary renders the effective configuration with secrets redacted.
func (c Config) Summary() map[string]string {
	codes := make([]string, 0, len(c.SuccessCodes))
	for _, code := range c.SuccessCodes {
		codes = append(codes, strconv.Itoa(code))
	}
	return map[string]string{
		"url":                   c.URL,
		"container":             c.ContainerName,
		"check_interval":        c.CheckInterval.String(),
		"success_codes":         strings.Join(codes, ","),
		"restart_delay":         c.RestartDelay.String(),
		"connection_timeout":    c.ConnectTimeout.String(),
		"max_timeout":           c.MaxTimeout.String(),
		"retry_count":           strconv.Itoa(c.RetryCount),
		"max_restarts_per_hour": strconv.Itoa(c.MaxRestartsPerHour),
		"docker_host":           c.DockerHost,
		"webhook":               redact(c.NotifyWebhook),
		"telegram":              strconv.FormatBool(c.TelegramToken != ""),
		"state_db":              c.StatePath,
		"http_addr":             c.HTTPAddr,
	}
}

func redact(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<set>"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
