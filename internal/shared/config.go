package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Kiosk       KioskConfig       `toml:"kiosk"`
	Browser     BrowserConfig     `toml:"browser"`
	Supabase    SupabaseConfig    `toml:"supabase"`
	Credentials CredentialsConfig `toml:"credentials"`
	Playback    PlaybackConfig    `toml:"playback"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
}

// KioskConfig controls the tab collection and the mounted room.
type KioskConfig struct {
	InitialURL   string        `toml:"initial_url"`
	RoomID       string        `toml:"room_id"`
	PollInterval time.Duration `toml:"poll_interval"`
	IconCache    int           `toml:"icon_cache"`
}

// BrowserConfig controls the Chrome instance that hosts tab surfaces.
//
// AllowedDomains is read once at startup; it is never edited at runtime.
type BrowserConfig struct {
	AllowedDomains []string `toml:"allowed_domains"`
	ChromePath     string   `toml:"chrome_path"`
	Headless       bool     `toml:"headless"`
	Kiosk          bool     `toml:"kiosk"`
	UserDataDir    string   `toml:"user_data_dir"`
}

// SupabaseConfig contains the backend project settings used for rooms, storage and realtime.
type SupabaseConfig struct {
	URL         string        `toml:"url"`
	AnonKey     string        `toml:"anon_key"`
	AccessToken string        `toml:"access_token"`
	Timeout     time.Duration `toml:"timeout"`
	RetryMax    int           `toml:"retry_max"`
}

// Configured reports whether both the project URL and key are present.
func (s SupabaseConfig) Configured() bool {
	return s.URL != "" && s.AnonKey != ""
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// PlaybackConfig tunes the playback poll loop and client rate limit.
type PlaybackConfig struct {
	PollInterval      time.Duration `toml:"poll_interval"`
	SkipDelay         time.Duration `toml:"skip_delay"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains settings for the local OAuth callback server.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port for [http.Server].
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig sets the log level and the file used while the TUI is running.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// envOverrides lists the environment variables that take precedence over the TOML file.
type envOverrides struct {
	SupabaseURL         string `envconfig:"SUPABASE_URL"`
	SupabaseAnonKey     string `envconfig:"SUPABASE_ANON_KEY"`
	SupabaseAccessToken string `envconfig:"SUPABASE_ACCESS_TOKEN"`
	SpotifyClientID     string `envconfig:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string `envconfig:"SPOTIFY_CLIENT_SECRET"`
	SpotifyRedirectURI  string `envconfig:"SPOTIFY_REDIRECT_URI"`
	RoomID              string `envconfig:"MESA_ROOM_ID"`
	LogLevel            string `envconfig:"MESA_LOG_LEVEL"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Missing keys keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays non-empty environment variables onto c.
func ApplyEnv(c *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	overlay(&c.Supabase.URL, env.SupabaseURL)
	overlay(&c.Supabase.AnonKey, env.SupabaseAnonKey)
	overlay(&c.Supabase.AccessToken, env.SupabaseAccessToken)
	overlay(&c.Credentials.Spotify.ClientID, env.SpotifyClientID)
	overlay(&c.Credentials.Spotify.ClientSecret, env.SpotifyClientSecret)
	overlay(&c.Credentials.Spotify.RedirectURI, env.SpotifyRedirectURI)
	overlay(&c.Kiosk.RoomID, env.RoomID)
	overlay(&c.Log.Level, env.LogLevel)
	return nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
