package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	DisplayConsole = "console"
	DisplayWeb     = "web"

	LogConsole = "console"
	LogJSON    = "json"

	EnvUsername = "ROOMDISPLAY_MQTT_USERNAME"
	EnvPassword = "ROOMDISPLAY_MQTT_PASSWORD"
)

// Config is read once at startup and never changed afterwards.
type Config struct {
	DeviceID string  `yaml:"device_id"`
	Timezone string  `yaml:"timezone"`
	MQTT     MQTT    `yaml:"mqtt"`
	Timing   Timing  `yaml:"timing"`
	Display  Display `yaml:"display"`
	Log      Log     `yaml:"log"`

	loc *time.Location
}

type MQTT struct {
	Broker         string        `yaml:"broker"`
	Port           int           `yaml:"port"`
	Prefix         string        `yaml:"prefix"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TLS            bool          `yaml:"tls"`
	TLSInsecure    bool          `yaml:"tls_insecure"`
	KeepAlive      time.Duration `yaml:"keepalive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PingQoS        uint8         `yaml:"ping_qos"`
	StatusQoS      uint8         `yaml:"status_qos"`
	PublishInfo    bool          `yaml:"publish_info"`
}

type Timing struct {
	RotationInterval time.Duration `yaml:"rotation_interval"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	DataTimeout      time.Duration `yaml:"data_timeout"`
	RenderSpacing    time.Duration `yaml:"render_spacing"`
	PingFloor        time.Duration `yaml:"ping_floor"`
	FailureThreshold int           `yaml:"failure_threshold"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

type Display struct {
	Mode    string `yaml:"mode"`
	WebAddr string `yaml:"web_addr"`
	// CANInterface enables the CAN indicator when set.
	CANInterface string `yaml:"can_interface"`
	CANID        uint32 `yaml:"can_id"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings. DeviceID has no default.
func Default() *Config {
	return &Config{
		MQTT: MQTT{
			Broker:         "test.mosquitto.org",
			Port:           8883,
			Prefix:         "test/room/",
			TLS:            true,
			KeepAlive:      30 * time.Second,
			ConnectTimeout: 10 * time.Second,
			PingQoS:        0,
			StatusQoS:      1,
			PublishInfo:    true,
		},
		Timing: Timing{
			RotationInterval: 20 * time.Second,
			SettleDelay:      3 * time.Second,
			DataTimeout:      60 * time.Second,
			RenderSpacing:    2 * time.Second,
			PingFloor:        10 * time.Second,
			FailureThreshold: 3,
			MaxBackoff:       2 * time.Minute,
			ShutdownTimeout:  5 * time.Second,
		},
		Display: Display{
			Mode:    DisplayConsole,
			WebAddr: ":8090",
			CANID:   0x321,
		},
		Log: Log{
			Level:  "info",
			Format: LogJSON,
		},
	}
}

// Load builds the configuration from defaults, the optional --config file,
// explicitly set flags and finally the credential environment variables, in
// increasing order of precedence. lookupEnv is usually os.LookupEnv.
func Load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	fs := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	path := fs.StringP("config", "f", "", "path to a YAML configuration file")
	cfg.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *path != "" {
		// The file lands in the same fields the flags are bound to, so
		// remember what was given on the command line and apply it again.
		set := make(map[string]string)
		fs.Visit(func(f *pflag.Flag) {
			set[f.Name] = f.Value.String()
		})
		if err := cfg.loadFile(*path); err != nil {
			return nil, err
		}
		for name, value := range set {
			if err := fs.Set(name, value); err != nil {
				return nil, fmt.Errorf("reapply flag --%s: %w", name, err)
			}
		}
	}

	if v, ok := lookupEnv(EnvUsername); ok {
		cfg.MQTT.Username = v
	}
	if v, ok := lookupEnv(EnvPassword); ok {
		cfg.MQTT.Password = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: decode %q: %w", ErrInvalid, path, err)
	}
	return nil
}

// Validate checks every field and resolves the timezone. All problems are
// reported at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if strings.TrimSpace(c.DeviceID) == "" {
		bad("device id is required")
	}
	if c.MQTT.Broker == "" {
		bad("broker is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		bad("port %d out of range", c.MQTT.Port)
	}
	if c.MQTT.PingQoS > 2 {
		bad("ping qos %d", c.MQTT.PingQoS)
	}
	if c.MQTT.StatusQoS > 2 {
		bad("status qos %d", c.MQTT.StatusQoS)
	}
	for name, d := range map[string]time.Duration{
		"keepalive":         c.MQTT.KeepAlive,
		"connect timeout":   c.MQTT.ConnectTimeout,
		"rotation interval": c.Timing.RotationInterval,
		"settle delay":      c.Timing.SettleDelay,
		"data timeout":      c.Timing.DataTimeout,
		"ping floor":        c.Timing.PingFloor,
		"max backoff":       c.Timing.MaxBackoff,
		"shutdown timeout":  c.Timing.ShutdownTimeout,
	} {
		if d <= 0 {
			bad("%s must be positive, got %s", name, d)
		}
	}
	if c.Timing.RenderSpacing < 0 {
		bad("render spacing must not be negative")
	}
	if c.Timing.FailureThreshold < 1 {
		bad("failure threshold must be at least 1")
	}
	switch c.Display.Mode {
	case DisplayConsole, DisplayWeb:
	default:
		bad("unknown display mode %q", c.Display.Mode)
	}
	if c.Display.Mode == DisplayWeb && c.Display.WebAddr == "" {
		bad("web display needs a listen address")
	}
	if c.Display.CANID == 0 || c.Display.CANID > 0x1FFFFFFF {
		bad("can id %#x out of range", c.Display.CANID)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		bad("log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case LogConsole, LogJSON:
	default:
		bad("unknown log format %q", c.Log.Format)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		bad("timezone %q: %v", c.Timezone, err)
	} else {
		c.loc = loc
	}
	return errors.Join(errs...)
}

// Location is the timezone times are displayed in; UTC unless configured.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}
