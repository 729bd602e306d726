package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"litedb/internal/platform/sqlite"
)

// FileEnv names the environment variable with the path of an optional TOML config.
const FileEnv = "LITEDB_CONFIG"

// Duration is a time.Duration read from TOML strings like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds application configuration values.
type Config struct {
	Env string `toml:"env" validate:"required,oneof=dev prod"`
	DB  struct {
		Path        string   `toml:"path" validate:"required"`
		AccessMode  string   `toml:"access_mode" validate:"required,oneof=rwc rw ro"`
		BusyTimeout Duration `toml:"busy_timeout"`
		TxMode      string   `toml:"tx_mode" validate:"required,oneof=DEFERRED IMMEDIATE EXCLUSIVE NONE"`
		ForeignKeys bool     `toml:"foreign_keys"`
		JournalMode string   `toml:"journal_mode" validate:"omitempty,oneof=DELETE TRUNCATE PERSIST MEMORY WAL OFF"`
		SyncMode    string   `toml:"sync_mode" validate:"omitempty,oneof=OFF NORMAL FULL EXTRA"`
		InitScript  string   `toml:"init_script" validate:"omitempty,file"`
		Migrations  string   `toml:"migrations" validate:"omitempty,contains=://"`
	} `toml:"db"`
	HTTP struct {
		Addr string `toml:"addr" validate:"required"`
	} `toml:"http"`
	Maintenance struct {
		VacuumCron string `toml:"vacuum_cron" validate:"omitempty,cron"`
		BackupCron string `toml:"backup_cron" validate:"omitempty,cron"`
		BackupDir  string `toml:"backup_dir" validate:"required_with=BackupCron"`
	} `toml:"maintenance"`
	Log struct {
		ConsoleLevel string `toml:"console_level" validate:"required,oneof=debug info warn error"`
		FileLevel    string `toml:"file_level" validate:"required,oneof=debug info warn error"`
		File         string `toml:"file"`
	} `toml:"log"`
}

// EnvKeys lists every environment variable Load reads.
var EnvKeys = []string{
	FileEnv, "ENV", "DB_PATH", "DB_ACCESS_MODE", "DB_BUSY_TIMEOUT", "DB_TX_MODE",
	"DB_FOREIGN_KEYS", "DB_JOURNAL_MODE", "DB_SYNC_MODE", "DB_INIT_SCRIPT", "DB_MIGRATIONS",
	"HTTP_ADDR", "MAINTENANCE_VACUUM_CRON", "MAINTENANCE_BACKUP_CRON", "MAINTENANCE_BACKUP_DIR",
	"LOG_CONSOLE_LEVEL", "LOG_FILE_LEVEL", "LOG_FILE",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	var c Config
	c.Env = "prod"
	c.DB.Path = "data/litedb.db"
	c.DB.AccessMode = string(sqlite.AccessModeReadWriteCreate)
	c.DB.BusyTimeout = Duration{5 * time.Second}
	c.DB.TxMode = string(sqlite.TxLockDeferred)
	c.DB.ForeignKeys = true
	c.HTTP.Addr = ":8080"
	c.Log.ConsoleLevel = "info"
	c.Log.FileLevel = "debug"
	c.Log.File = "data/logs/litedb.log"
	return c
}

// Load reads configuration from an optional .env file, an optional TOML file
// named by LITEDB_CONFIG and environment variables, in that order of precedence
// from lowest to highest.
func Load() (Config, error) {
	_ = godotenv.Load()

	c := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if _, err := toml.DecodeFile(path, &c); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	c.normalize()

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Env, "ENV")
	setString(&c.DB.Path, "DB_PATH")
	setString(&c.DB.AccessMode, "DB_ACCESS_MODE")
	setString(&c.DB.TxMode, "DB_TX_MODE")
	setString(&c.DB.JournalMode, "DB_JOURNAL_MODE")
	setString(&c.DB.SyncMode, "DB_SYNC_MODE")
	setString(&c.DB.InitScript, "DB_INIT_SCRIPT")
	setString(&c.DB.Migrations, "DB_MIGRATIONS")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.Maintenance.VacuumCron, "MAINTENANCE_VACUUM_CRON")
	setString(&c.Maintenance.BackupCron, "MAINTENANCE_BACKUP_CRON")
	setString(&c.Maintenance.BackupDir, "MAINTENANCE_BACKUP_DIR")
	setString(&c.Log.ConsoleLevel, "LOG_CONSOLE_LEVEL")
	setString(&c.Log.FileLevel, "LOG_FILE_LEVEL")
	setString(&c.Log.File, "LOG_FILE")

	if v := os.Getenv("DB_BUSY_TIMEOUT"); v != "" {
		if err := c.DB.BusyTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("DB_BUSY_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("DB_FOREIGN_KEYS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DB_FOREIGN_KEYS: %w", err)
		}
		c.DB.ForeignKeys = b
	}
	return nil
}

func (c *Config) normalize() {
	c.DB.AccessMode = strings.ToLower(c.DB.AccessMode)
	c.DB.TxMode = strings.ToUpper(c.DB.TxMode)
	c.DB.JournalMode = strings.ToUpper(c.DB.JournalMode)
	c.DB.SyncMode = strings.ToUpper(c.DB.SyncMode)
	c.Log.ConsoleLevel = strings.ToLower(c.Log.ConsoleLevel)
	c.Log.FileLevel = strings.ToLower(c.Log.FileLevel)
}

// DBOptions converts the database section to sqlite.Options.
// The init script file is read here.
func (c Config) DBOptions() (sqlite.Options, error) {
	opts := sqlite.DefaultOptions()
	opts.AccessMode = sqlite.AccessMode(c.DB.AccessMode)
	opts.BusyTimeout = c.DB.BusyTimeout.Duration
	opts.TxLockMode = sqlite.TxLockMode(c.DB.TxMode)
	opts.ForeignKeys = c.DB.ForeignKeys
	opts.JournalMode = sqlite.JournalMode(c.DB.JournalMode)
	opts.SyncMode = sqlite.SyncMode(c.DB.SyncMode)

	if c.DB.InitScript != "" {
		script, err := os.ReadFile(c.DB.InitScript)
		if err != nil {
			return opts, fmt.Errorf("failed to read init script: %w", err)
		}
		opts.InitScript = string(script)
	}
	return opts, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
