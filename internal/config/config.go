// Package config loads the daemon configuration: a YAML file layered under
// E84_* environment overrides. Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/e84-loadport/internal/gpio"
	"github.com/sweeney/e84-loadport/internal/loadport"
	"github.com/sweeney/e84-loadport/internal/logger"
)

// ErrInvalid wraps every configuration error returned by this package.
var ErrInvalid = errors.New("config: invalid")

// Duration is a time.Duration written as a string ("200ms", "1m") in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete daemon configuration.
type Config struct {
	GPIO   GPIOConfig   `yaml:"gpio"`
	Timing TimingConfig `yaml:"timing"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Redis  RedisConfig  `yaml:"redis"`
	HTTP   HTTPConfig   `yaml:"http"`
	Log    LogConfig    `yaml:"log"`
}

// GPIOConfig selects the chip and pin wiring. Empty pin groups use the
// board defaults.
type GPIOConfig struct {
	Chip          string         `yaml:"chip"`
	Simulate      bool           `yaml:"simulate"`
	SignalBias    string         `yaml:"signal_bias"`
	KeyBias       string         `yaml:"key_bias"`
	SignalInputs  map[string]int `yaml:"signal_inputs,omitempty"`
	SignalOutputs map[string]int `yaml:"signal_outputs,omitempty"`
	KeyInputs     map[string]int `yaml:"key_inputs,omitempty"`
	LEDOutputs    map[string]int `yaml:"led_outputs,omitempty"`
}

type TimingConfig struct {
	Refresh      Duration `yaml:"refresh"`
	Debounce     Duration `yaml:"debounce"`
	ShortTimeout Duration `yaml:"short_timeout"`
	LongTimeout  Duration `yaml:"long_timeout"`
	Heartbeat    Duration `yaml:"heartbeat"`
}

// MQTTConfig configures event publishing. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// RedisConfig configures the state hash, pub/sub channel and command list.
// An empty address disables Redis.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password,omitempty"`
	DB          int    `yaml:"db"`
	Key         string `yaml:"key"`
	CommandList string `yaml:"command_list"`
}

// HTTPConfig configures the status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dev   bool   `yaml:"dev"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GPIO: GPIOConfig{
			Chip:       "gpiochip0",
			SignalBias: gpio.BiasPullUp.String(),
			KeyBias:    gpio.BiasPullDown.String(),
		},
		Timing: TimingConfig{
			Refresh:      Duration(loadport.DefaultRefreshInterval),
			Debounce:     Duration(loadport.DefaultDebounceInterval),
			ShortTimeout: Duration(loadport.DefaultShortTimeout),
			LongTimeout:  Duration(loadport.DefaultLongTimeout),
			Heartbeat:    Duration(15 * time.Minute),
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "e84-loadport",
			TopicPrefix: "loadport",
		},
		Redis: RedisConfig{
			Key:         "loadport",
			CommandList: "loadport:command",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides from the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from E84_* variables. ENV=development enables
// the console log handler.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("E84_GPIO_CHIP", &c.GPIO.Chip)
	str("E84_SIGNAL_BIAS", &c.GPIO.SignalBias)
	str("E84_KEY_BIAS", &c.GPIO.KeyBias)
	boolean("E84_SIMULATE", &c.GPIO.Simulate)
	dur("E84_REFRESH", &c.Timing.Refresh)
	dur("E84_DEBOUNCE", &c.Timing.Debounce)
	dur("E84_SHORT_TIMEOUT", &c.Timing.ShortTimeout)
	dur("E84_LONG_TIMEOUT", &c.Timing.LongTimeout)
	dur("E84_HEARTBEAT", &c.Timing.Heartbeat)
	str("E84_MQTT_BROKER", &c.MQTT.Broker)
	str("E84_MQTT_CLIENT_ID", &c.MQTT.ClientID)
	str("E84_MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)
	str("E84_REDIS_ADDR", &c.Redis.Addr)
	str("E84_REDIS_PASSWORD", &c.Redis.Password)
	str("E84_HTTP_ADDR", &c.HTTP.Addr)
	str("E84_LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("E84_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("E84_REDIS_DB: %w", err))
		} else {
			c.Redis.DB = n
		}
	}
	if v, ok := lookup("ENV"); ok && strings.EqualFold(v, "development") {
		c.Log.Dev = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Validate checks the service settings and the controller wiring.
func (c Config) Validate() error {
	if _, ok := logger.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.Log.Level)
	}
	if c.Timing.Heartbeat < 0 {
		return fmt.Errorf("%w: heartbeat must not be negative", ErrInvalid)
	}
	if !c.GPIO.Simulate && c.GPIO.Chip == "" {
		return fmt.Errorf("%w: gpio chip is required", ErrInvalid)
	}
	if _, _, err := c.GPIO.Biases(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("%w: mqtt topic prefix is required", ErrInvalid)
	}
	if c.Redis.Addr != "" && (c.Redis.Key == "" || c.Redis.CommandList == "") {
		return fmt.Errorf("%w: redis key and command list are required", ErrInvalid)
	}
	if err := c.LoadPort().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Biases returns the input bias of the signal bank and of the key bank.
// Signal inputs idle high through the opto-couplers; the key switches are
// open when released and need a pull-down.
func (g GPIOConfig) Biases() (signal, key gpio.Bias, err error) {
	if signal, err = gpio.ParseBias(g.SignalBias); err != nil {
		return 0, 0, fmt.Errorf("signal_bias: %w", err)
	}
	if key, err = gpio.ParseBias(g.KeyBias); err != nil {
		return 0, 0, fmt.Errorf("key_bias: %w", err)
	}
	return signal, key, nil
}

// LoadPort converts the file settings into the controller configuration,
// with defaults applied.
func (c Config) LoadPort() loadport.Config {
	return loadport.Config{
		SignalInputs:     pinMap(c.GPIO.SignalInputs),
		SignalOutputs:    pinMap(c.GPIO.SignalOutputs),
		KeyInputs:        pinMap(c.GPIO.KeyInputs),
		LEDOutputs:       pinMap(c.GPIO.LEDOutputs),
		RefreshInterval:  c.Timing.Refresh.Std(),
		DebounceInterval: c.Timing.Debounce.Std(),
		ShortTimeout:     c.Timing.ShortTimeout.Std(),
		LongTimeout:      c.Timing.LongTimeout.Std(),
	}.WithDefaults()
}

// YAML renders the effective configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(&c)
}

func pinMap(m map[string]int) map[gpio.PinName]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[gpio.PinName]int, len(m))
	for name, pin := range m {
		out[gpio.PinName(strings.ToUpper(name))] = pin
	}
	return out
}
