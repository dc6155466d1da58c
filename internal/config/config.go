package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	PublicURL  string        `mapstructure:"public_url"`
	APITokens  []string      `mapstructure:"api_tokens"`

	Redis      RedisConfig     `mapstructure:"redis"`
	Meeting    MeetingConfig   `mapstructure:"meeting"`
	Fallback   FallbackConfig  `mapstructure:"fallback"`
	Sweeper    SweeperConfig   `mapstructure:"sweeper"`
	Assistant  AssistantConfig `mapstructure:"assistant"`
	Rate       RateConfig      `mapstructure:"rate"`
	ICEServers []ICEServer     `mapstructure:"ice_servers"`
}

type RedisConfig struct {
	URL            string        `mapstructure:"url"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

type MeetingConfig struct {
	TTL                    time.Duration `mapstructure:"ttl"`
	DefaultMaxParticipants int           `mapstructure:"default_max_participants"`
	HistoryOnJoin          int           `mapstructure:"history_on_join"`
}

type FallbackConfig struct {
	MaxItems      int           `mapstructure:"max_items"`
	EvictInterval time.Duration `mapstructure:"evict_interval"`
}

type SweeperConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	EmptyGrace time.Duration `mapstructure:"empty_grace"`
	MaxRoomAge time.Duration `mapstructure:"max_room_age"`
	MaxRooms   int           `mapstructure:"max_rooms"`
}

type AssistantConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateConfig struct {
	ChatLimit         int           `mapstructure:"chat_limit"`
	ChatInterval      time.Duration `mapstructure:"chat_interval"`
	AssistantLimit    int           `mapstructure:"assistant_limit"`
	AssistantInterval time.Duration `mapstructure:"assistant_interval"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// WebRTC returns the ICE configuration handed to clients for their peer
// connections.
func (c *Config) WebRTC() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, srv)
	}
	return webrtc.Configuration{ICEServers: servers}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("public_url", "http://localhost:8080")
	v.SetDefault("api_tokens", []string{})

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.health_interval", "5s")

	v.SetDefault("meeting.ttl", "24h")
	v.SetDefault("meeting.default_max_participants", 10)
	v.SetDefault("meeting.history_on_join", 50)

	v.SetDefault("fallback.max_items", 1000)
	v.SetDefault("fallback.evict_interval", "5m")

	v.SetDefault("sweeper.interval", "5m")
	v.SetDefault("sweeper.empty_grace", "30m")
	v.SetDefault("sweeper.max_room_age", "12h")
	v.SetDefault("sweeper.max_rooms", 500)

	v.SetDefault("assistant.base_url", "https://api.openai.com/v1")
	v.SetDefault("assistant.api_key", "")
	v.SetDefault("assistant.model", "gpt-4o-mini")
	v.SetDefault("assistant.timeout", "30s")

	v.SetDefault("rate.chat_limit", 20)
	v.SetDefault("rate.chat_interval", "10s")
	v.SetDefault("rate.assistant_limit", 5)
	v.SetDefault("rate.assistant_interval", "1m")

	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
}

// bindEnv maps MEET_<SECTION>_<KEY> onto every key that has a default.
// Unmarshal only sees keys viper already knows, so a key without a default is
// never read from the environment.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("MEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads .env, then config/config.{CONFIG_ENV}.yaml, then MEET_* env
// overrides on top of the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to load .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	bindEnv(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Bool("redis", cfg.Redis.URL != "").
		Msg("config ready")
	return &cfg, nil
}
