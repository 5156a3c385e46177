// Package config loads the bot's run configuration from a YAML file, an
// optional .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"reddit-mirror-bot/uploader"
)

// Subreddit is one monitored channel.
type Subreddit struct {
	Name        string
	Category    string // Mirror host category name
	DownloadAll bool   // Acquire every linked video, not only summoned ones
}

// Downloader configures the external acquisition tool.
type Downloader struct {
	Path    string
	Timeout time.Duration
}

// Mirror holds the mirror host endpoints and account.
type Mirror struct {
	BaseURL   string
	UploadURL string
	ViewURL   string
	Username  string
	Password  string
	DryRun    bool
}

// Reddit holds the script-app credentials of the bot account.
type Reddit struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
}

// Alert configures operator alert mail.
type Alert struct {
	Provider              string // "", "mock", "gmail" or "brevo"
	To                    string
	From                  string
	BrevoAPIKey           string
	GoogleCredentialsJSON string
}

// Config is read once at start and never changed during a run.
type Config struct {
	Limit        int
	VideoPath    string
	DBPath       string
	Hold         time.Duration
	Threshold    int
	MaxAttempts  int
	UserAgent    string
	BotName      string
	DeveloperKey string
	StateBucket  string
	Downloader   Downloader
	Mirror       Mirror
	Reddit       Reddit
	Alert        Alert
	Subreddits   []Subreddit
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("limit", 100)
	v.SetDefault("videopath", "./videos")
	v.SetDefault("dbpath", "./data/mirror.db")
	v.SetDefault("hold_hours", 48)
	v.SetDefault("ups_threshold", 10)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("user_agent", "linux:reddit-mirror-bot:v1.0")
	v.SetDefault("downloader.path", "yt-dlp")
	v.SetDefault("downloader.timeout", 30*time.Minute)
	v.SetDefault("mirror.base_url", "http://www.liveleak.com")
	v.SetDefault("mirror.upload_url", "https://llbucs.s3.amazonaws.com/")
	v.SetDefault("mirror.view_url", "http://www.liveleak.com/view?i=%s")
}

// Load reads path, or ./config.yaml when path is empty. A .env file in the
// working directory is loaded into the environment first if present.
// Environment variables override file values, with "." in keys written as
// "_" (MIRROR_PASSWORD overrides mirror.password).
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Limit:        v.GetInt("limit"),
		VideoPath:    v.GetString("videopath"),
		DBPath:       v.GetString("dbpath"),
		Hold:         time.Duration(v.GetFloat64("hold_hours") * float64(time.Hour)),
		Threshold:    v.GetInt("ups_threshold"),
		MaxAttempts:  v.GetInt("max_attempts"),
		UserAgent:    v.GetString("user_agent"),
		BotName:      v.GetString("bot_name"),
		DeveloperKey: v.GetString("google_developer_key"),
		StateBucket:  v.GetString("state.bucket"),
		Downloader: Downloader{
			Path:    v.GetString("downloader.path"),
			Timeout: v.GetDuration("downloader.timeout"),
		},
		Mirror: Mirror{
			BaseURL:   v.GetString("mirror.base_url"),
			UploadURL: v.GetString("mirror.upload_url"),
			ViewURL:   v.GetString("mirror.view_url"),
			Username:  v.GetString("mirror.username"),
			Password:  v.GetString("mirror.password"),
			DryRun:    v.GetBool("mirror.dry_run"),
		},
		Reddit: Reddit{
			Username:     v.GetString("reddit.username"),
			Password:     v.GetString("reddit.password"),
			ClientID:     v.GetString("reddit.client_id"),
			ClientSecret: v.GetString("reddit.client_secret"),
		},
		Alert: Alert{
			Provider:              v.GetString("alert.provider"),
			To:                    v.GetString("alert.to"),
			From:                  v.GetString("alert.from"),
			BrevoAPIKey:           v.GetString("alert.brevo_api_key"),
			GoogleCredentialsJSON: v.GetString("alert.google_credentials_json"),
		},
	}
	if cfg.BotName == "" {
		cfg.BotName = cfg.Reddit.Username
	}

	names := make([]string, 0)
	for name := range v.GetStringMap("subreddits") {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		key := "subreddits." + name
		cfg.Subreddits = append(cfg.Subreddits, Subreddit{
			Name:        name,
			Category:    v.GetString(key + ".category"),
			DownloadAll: v.GetBool(key + ".download_all"),
		})
	}
	return cfg
}

// Validate reports the first setting that would make a run misbehave.
func (c *Config) Validate() error {
	if len(c.Subreddits) == 0 {
		return errors.New("config: no subreddits configured")
	}
	for _, sr := range c.Subreddits {
		if _, err := uploader.CategoryCode(sr.Category); err != nil {
			return fmt.Errorf("config: subreddit %s: %w", sr.Name, err)
		}
	}

	switch {
	case c.Limit <= 0:
		return fmt.Errorf("config: limit must be positive, got %d", c.Limit)
	case c.Threshold <= 0:
		return fmt.Errorf("config: ups_threshold must be positive, got %d", c.Threshold)
	case c.Hold <= 0:
		return fmt.Errorf("config: hold_hours must be positive, got %v", c.Hold)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("config: max_attempts must be positive, got %d", c.MaxAttempts)
	case c.VideoPath == "":
		return errors.New("config: videopath is required")
	case c.DBPath == "":
		return errors.New("config: dbpath is required")
	}

	if c.Reddit.Username == "" || c.Reddit.Password == "" || c.Reddit.ClientID == "" {
		return errors.New("config: reddit.username, reddit.password and reddit.client_id are required")
	}
	if c.Mirror.Username == "" || c.Mirror.Password == "" {
		return errors.New("config: mirror.username and mirror.password are required")
	}
	if !strings.Contains(c.Mirror.ViewURL, "%s") {
		return fmt.Errorf("config: mirror.view_url %q must contain %%s", c.Mirror.ViewURL)
	}

	switch c.Alert.Provider {
	case "":
	case "mock", "gmail":
		if c.Alert.To == "" {
			return errors.New("config: alert.to is required when alerts are enabled")
		}
	case "brevo":
		if c.Alert.To == "" || c.Alert.From == "" || c.Alert.BrevoAPIKey == "" {
			return errors.New("config: brevo alerts need alert.to, alert.from and alert.brevo_api_key")
		}
	default:
		return fmt.Errorf("config: unknown alert provider %q", c.Alert.Provider)
	}
	return nil
}
