// Package config provides layered configuration loading for the vanish
// service. It merges Defaults -> .env file -> Environment Variables, with
// validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "VANISH_"

// Config holds the merged runtime configuration for the vanish service.
type Config struct {
	Addr      string `koanf:"addr" validate:"ip_port"`
	PublicURL string `koanf:"public_url" validate:"required,url"`
	DataDir   string `koanf:"data_dir" validate:"safe_path"`

	StoreDriver string `koanf:"store_driver" validate:"oneof=sqlite postgres"`
	PostgresDSN string `koanf:"postgres_dsn" validate:"required_if=StoreDriver postgres"`

	BlobDriver  string `koanf:"blob_driver" validate:"oneof=filesystem s3"`
	S3Bucket    string `koanf:"s3_bucket" validate:"required_if=BlobDriver s3"`
	S3Region    string `koanf:"s3_region"`
	S3Endpoint  string `koanf:"s3_endpoint" validate:"omitempty,url"`
	S3Prefix    string `koanf:"s3_prefix"`
	S3AccessKey string `koanf:"s3_access_key"`
	S3SecretKey string `koanf:"s3_secret_key" validate:"required_with=S3AccessKey"`
	S3PathStyle bool   `koanf:"s3_path_style"`

	MaxBytes     ByteSize      `koanf:"max_bytes" validate:"size"`
	DefaultTTL   time.Duration `koanf:"default_ttl" validate:"gt=0"`
	MaxTTL       time.Duration `koanf:"max_ttl" validate:"gt=0"`
	IOTimeout    time.Duration `koanf:"io_timeout" validate:"gt=0"`
	LinkTTL      time.Duration `koanf:"link_ttl" validate:"gt=0"`
	PasswordCost int           `koanf:"password_cost" validate:"min=4,max=31"`

	ReapSchedule string        `koanf:"reap_schedule" validate:"required"`
	OrphanMinAge time.Duration `koanf:"orphan_min_age" validate:"gte=0"`

	JWTSecret    string `koanf:"jwt_secret" validate:"omitempty,min=16"`
	JWTIssuer    string `koanf:"jwt_issuer"`
	MetricsToken string `koanf:"metrics_token"`

	LogLevel      string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat     string `koanf:"log_format" validate:"oneof=text json"`
	LogFile       string `koanf:"log_file"`
	LogMaxSizeMB  int    `koanf:"log_max_size_mb" validate:"gte=0"`
	LogMaxBackups int    `koanf:"log_max_backups" validate:"gte=0"`
	LogMaxAgeDays int    `koanf:"log_max_age_days" validate:"gte=0"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// DefaultAppConfig holds the defaults every other layer overrides.
var DefaultAppConfig = Config{
	Addr:            ":8080",
	PublicURL:       "http://localhost:8080",
	DataDir:         "./data",
	StoreDriver:     "sqlite",
	BlobDriver:      "filesystem",
	S3Region:        "us-east-1",
	MaxBytes:        10 << 20, // 10 MiB
	DefaultTTL:      10 * time.Minute,
	MaxTTL:          30 * 24 * time.Hour,
	IOTimeout:       30 * time.Second,
	LinkTTL:         10 * time.Minute,
	PasswordCost:    10,
	ReapSchedule:    "@every 5m",
	OrphanMinAge:    15 * time.Minute,
	JWTIssuer:       "vanish",
	LogLevel:        "info",
	LogFormat:       "text",
	LogMaxSizeMB:    100,
	LogMaxBackups:   3,
	LogMaxAgeDays:   28,
	ShutdownTimeout: 15 * time.Second,
}

// maxUploadCeiling bounds max_bytes; uploads are buffered through a single
// request body.
const maxUploadCeiling = 1 << 30

// dotenvFiles are loaded, when present, before the environment is read.
// Variables already set in the process environment win.
var dotenvFiles = []string{".env"}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
}

var envLoader = func(k *koanf.Koanf) error {
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil)
}

var registerValidators = func(v *validator.Validate) error {
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	if err := v.RegisterValidation("safe_path", validSafePath); err != nil {
		return err
	}
	return v.RegisterValidation("size", validSize)
}

// Load merges defaults, an optional .env file and VANISH_* environment
// variables, then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				StringToByteSize(),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New()
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.DefaultTTL > cfg.MaxTTL {
		return nil, errors.New("default_ttl must not exceed max_ttl")
	}
	return &cfg, nil
}

// SQLiteDSN returns the DSN of the record database under DataDir.
func (c *Config) SQLiteDSN() string {
	dir := c.DataDir
	if dir != "" && !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return "file:" + dir + "vanish.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
}

// BlobDir is where the filesystem blob driver keeps its files.
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, "blobs")
}

// validIPPort accepts ":port" or "ip:port" with a literal IP and a port in
// 1-65535. Host names are rejected.
func validIPPort(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.ContainsAny(s, " \t") {
		return false
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// validSafePath rejects empty paths, the filesystem root, the working
// directory itself and anything with a parent reference.
func validSafePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if strings.TrimSpace(p) == "" {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return false
		}
	}
	clean := filepath.Clean(p)
	return clean != "." && clean != string(filepath.Separator)
}

func validSize(fl validator.FieldLevel) bool {
	n := fl.Field().Int()
	return n > 0 && n <= maxUploadCeiling
}
