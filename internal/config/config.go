package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		// Driver is "sqlite" or "postgres".
		Driver string
		Path   string
		URL    string
	}
	Download struct {
		DataDir          string
		MaxConcurrent    int           `mapstructure:"max_concurrent"`
		ProgressInterval time.Duration `mapstructure:"progress_interval"`
		UserAgent        string        `mapstructure:"user_agent"`
	}
	Settings struct {
		Path string
	}
	User struct {
		ID string
	}
	Storage struct {
		Bucket     string
		Region     string
		Endpoint   string
		PresignTTL time.Duration `mapstructure:"presign_ttl"`
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret       string
		PasswordHash    string `mapstructure:"password_hash"`
		TokenTTLMinutes int
	}
	Ledger struct {
		RetryAttempts uint          `mapstructure:"retry_attempts"`
		RetryDelay    time.Duration `mapstructure:"retry_delay"`
	}
	Log struct {
		Level string
		File  string
	}
	Connectivity struct {
		Online    bool
		Unmetered bool
	}
	Offline struct {
		PruneLedgerOnValidate bool   `mapstructure:"prune_ledger_on_validate"`
		PendingPath           string `mapstructure:"pending_path"`
	}
}

// Load reads configuration from environment variables and an optional config
// file. An empty path looks for config.* in the working directory.
func Load(path string) (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("OFFLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/offline.db")
	v.SetDefault("database.url", "")
	v.SetDefault("download.datadir", "data/offline")
	v.SetDefault("download.max_concurrent", 3)
	v.SetDefault("download.progress_interval", 250*time.Millisecond)
	v.SetDefault("download.user_agent", "offline-store")
	v.SetDefault("settings.path", "data/storage-policy.json")
	v.SetDefault("user.id", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.presign_ttl", time.Hour)
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.password_hash", "")
	v.SetDefault("auth.tokenttlminutes", 24*60)
	v.SetDefault("ledger.retry_attempts", 3)
	v.SetDefault("ledger.retry_delay", 500*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("connectivity.online", true)
	v.SetDefault("connectivity.unmetered", true)
	v.SetDefault("offline.prune_ledger_on_validate", false)
	v.SetDefault("offline.pending_path", "data/pending-downloads.json")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // optional file
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings every command needs.
func (c Config) Validate() error {
	if strings.TrimSpace(c.User.ID) == "" {
		return errors.New("user id is required (OFFLINE_USER_ID)")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database url is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Download.DataDir == "" {
		return errors.New("download data dir is required")
	}
	return nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
