package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Redis       RedisConfig
	Gateway     GatewayConfig
	Attachments AttachmentConfig
	Sweeper     SweeperConfig
	Log         LogConfig
}

type ServerConfig struct {
	Address string
}

type StoreConfig struct {
	Driver         string
	PostgresURL    string
	MigrateOnStart bool
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// GatewayConfig is loaded once at start and handed to the gateway client
// and the dispatcher.
type GatewayConfig struct {
	URL             string
	APIKey          string
	AllowAttachment bool
	Timeout         time.Duration
}

type AttachmentConfig struct {
	PublicBaseURL string
	S3            S3Config
}

type S3Config struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKey       string
	SecretKey       string
	UsePathStyle    bool
	PresignDuration time.Duration
}

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	Grace     time.Duration
	AutoStart bool
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadAll reads the whole configuration from the environment. Every problem
// found is reported, not just the first.
func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	var err error

	cfg.Store, err = loadStoreConfig()
	collect(err)

	cfg.Redis, err = loadRedisConfig()
	collect(err)

	cfg.Gateway, err = loadGatewayConfig()
	collect(err)

	cfg.Attachments, err = loadAttachmentConfig()
	collect(err)

	cfg.Sweeper, err = loadSweeperConfig()
	collect(err)

	collect(validate(cfg))

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadStoreConfig() (StoreConfig, error) {
	var errs []error

	sc := StoreConfig{
		Driver: strings.ToLower(getEnv("STORE", StorePostgres)),
	}

	migrate, err := getEnvBool("MIGRATE_ON_START", true)
	if err != nil {
		errs = append(errs, err)
	}
	sc.MigrateOnStart = migrate

	if sc.Driver == StorePostgres {
		url, err := requireEnv("POSTGRES_URL")
		if err != nil {
			errs = append(errs, err)
		}
		sc.PostgresURL = url
	}

	return sc, joinErrors(errs)
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		errs = append(errs, err)
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, joinErrors(errs)
}

func loadGatewayConfig() (GatewayConfig, error) {
	var errs []error

	key, err := requireEnv("GATEWAY_API_KEY")
	if err != nil {
		errs = append(errs, err)
	}
	allow, err := getEnvBool("GATEWAY_ALLOW_ATTACHMENT", true)
	if err != nil {
		errs = append(errs, err)
	}
	timeout, err := getEnvInt("GATEWAY_TIMEOUT_SECONDS", 15)
	if err != nil {
		errs = append(errs, err)
	}

	return GatewayConfig{
		URL:             getEnv("GATEWAY_URL", "https://api.wassenger.com/v1"),
		APIKey:          key,
		AllowAttachment: allow,
		Timeout:         time.Duration(timeout) * time.Second,
	}, joinErrors(errs)
}

func loadAttachmentConfig() (AttachmentConfig, error) {
	ac := AttachmentConfig{
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
	}

	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		return ac, nil
	}

	var errs []error

	pathStyle, err := getEnvBool("S3_USE_PATH_STYLE", false)
	if err != nil {
		errs = append(errs, err)
	}
	presign, err := getEnvInt("S3_PRESIGN_SECONDS", 900)
	if err != nil {
		errs = append(errs, err)
	}
	access, err := requireEnv("S3_ACCESS_KEY")
	if err != nil {
		errs = append(errs, err)
	}
	secret, err := requireEnv("S3_SECRET_KEY")
	if err != nil {
		errs = append(errs, err)
	}

	ac.S3 = S3Config{
		Enabled:         true,
		Bucket:          bucket,
		Region:          getEnv("S3_REGION", "us-east-1"),
		Endpoint:        os.Getenv("S3_ENDPOINT"),
		AccessKey:       access,
		SecretKey:       secret,
		UsePathStyle:    pathStyle,
		PresignDuration: time.Duration(presign) * time.Second,
	}
	return ac, joinErrors(errs)
}

func loadSweeperConfig() (SweeperConfig, error) {
	var errs []error

	interval, err := getEnvInt("SWEEP_INTERVAL_SECONDS", 120)
	if err != nil {
		errs = append(errs, err)
	}
	batch, err := getEnvInt("SWEEP_BATCH_SIZE", 20)
	if err != nil {
		errs = append(errs, err)
	}
	grace, err := getEnvInt("SWEEP_GRACE_SECONDS", 300)
	if err != nil {
		errs = append(errs, err)
	}
	autostart, err := getEnvBool("SWEEP_AUTOSTART", false)
	if err != nil {
		errs = append(errs, err)
	}

	return SweeperConfig{
		Interval:  time.Duration(interval) * time.Second,
		BatchSize: batch,
		Grace:     time.Duration(grace) * time.Second,
		AutoStart: autostart,
	}, joinErrors(errs)
}

func validate(cfg *Config) error {
	var errs []error

	switch cfg.Store.Driver {
	case StorePostgres, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store.Driver))
	}
	if cfg.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Sweeper.BatchSize <= 0 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be > 0"))
	}
	if cfg.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Sweeper.Grace < 0 {
		errs = append(errs, errors.New("SWEEP_GRACE_SECONDS must be >= 0"))
	}
	if cfg.Attachments.S3.Enabled && cfg.Attachments.S3.PresignDuration <= 0 {
		errs = append(errs, errors.New("S3_PRESIGN_SECONDS must be > 0"))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.Log.Format))
	}

	return joinErrors(errs)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
