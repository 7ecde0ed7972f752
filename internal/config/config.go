package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ChannelConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

type WebRTCConfig struct {
	PortMin          uint16        `mapstructure:"port_min"`
	PortMax          uint16        `mapstructure:"port_max"`
	AnnouncedAddress string        `mapstructure:"announced_address"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	GatherTimeout    time.Duration `mapstructure:"gather_timeout"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type Config struct {
	Mode        string          `mapstructure:"mode"`
	Port        int             `mapstructure:"port"`
	StaticPath  string          `mapstructure:"static_path"`
	ReadLimit   int64           `mapstructure:"read_limit"`
	PingPeriod  time.Duration   `mapstructure:"ping_period"`
	Secret      string          `mapstructure:"secret"`
	LogLevel    string          `mapstructure:"log_level"`
	AuthTimeout time.Duration   `mapstructure:"auth_timeout"`
	TokenTTL    time.Duration   `mapstructure:"token_ttl"`
	TokenSweep  time.Duration   `mapstructure:"token_sweep"`
	SQLitePath  string          `mapstructure:"sqlite_path"`
	Channels    []ChannelConfig `mapstructure:"channels"`
	JoinRate    float64         `mapstructure:"join_rate"`
	JoinBurst   int             `mapstructure:"join_burst"`
	WebRTC      WebRTCConfig    `mapstructure:"webrtc"`
	AMQP        AMQPConfig      `mapstructure:"amqp"`
}

// DefaultChannels are served when the config names none.
func DefaultChannels() []ChannelConfig {
	return []ChannelConfig{
		{Name: "general", Description: "General talk"},
		{Name: "gaming", Description: "Gaming"},
		{Name: "tech", Description: "Tech talk"},
		{Name: "random", Description: "Anything else"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("auth_timeout", "10s")
	v.SetDefault("token_ttl", "30s")
	v.SetDefault("token_sweep", "5s")
	v.SetDefault("sqlite_path", "./voice.db")
	v.SetDefault("join_rate", 1.0)
	v.SetDefault("join_burst", 3)
	v.SetDefault("webrtc.port_min", 40000)
	v.SetDefault("webrtc.port_max", 40100)
	v.SetDefault("webrtc.announced_address", "")
	v.SetDefault("webrtc.ice_servers", []string{})
	v.SetDefault("webrtc.gather_timeout", "5s")
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "voice.events")
}

// Load reads config/config.<CONFIG_ENV>.yaml (or --config), then VOICE_*
// environment variables, then flags parsed from args.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("voice", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to the yaml config file")
	fs.Int("port", 8080, "http listen port")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlag("port", fs.Lookup("port")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("log_level", fs.Lookup("log-level")); err != nil {
		return nil, err
	}

	fileName := *configFile
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		if *configFile != "" {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultChannels()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Int("channels", len(cfg.Channels)).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	if c.TokenSweep <= 0 {
		errs = append(errs, errors.New("token_sweep must be positive"))
	}
	if c.WebRTC.PortMin > c.WebRTC.PortMax {
		errs = append(errs, fmt.Errorf("webrtc port range %d-%d is empty", c.WebRTC.PortMin, c.WebRTC.PortMax))
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Name == "" {
			errs = append(errs, errors.New("channel without a name"))
			continue
		}
		if seen[ch.Name] {
			errs = append(errs, fmt.Errorf("duplicate channel %q", ch.Name))
		}
		seen[ch.Name] = true
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DomainChannels converts the configured channels, numbering them in order.
func (c *Config) DomainChannels() []domain.Channel {
	out := make([]domain.Channel, 0, len(c.Channels))
	for i, ch := range c.Channels {
		out = append(out, domain.Channel{
			ID:          domain.ChannelID(strconv.Itoa(i + 1)),
			Name:        domain.ChannelName(ch.Name),
			Description: ch.Description,
		})
	}
	return out
}
