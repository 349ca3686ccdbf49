package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Postgres   PostgresConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	AssemblyAI AssemblyAIConfig
	OpenAI     OpenAIConfig
	R2         R2Config
	Billing    BillingConfig
	Pipeline   PipelineConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type JWTConfig struct {
	// Secret is the Supabase project JWT secret used to verify access tokens.
	Secret string
}

type RateLimitConfig struct {
	AnalysisPerHour int
	BatchPerHour    int
	UploadPerHour   int
}

type AssemblyAIConfig struct {
	APIKey  string
	BaseURL string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type BillingConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

// PipelineConfig parameterizes the orchestrator: polling cadence, hard
// input budgets and the batch concurrency gate.
type PipelineConfig struct {
	PollIntervalSeconds    int
	MaxPollAttempts        int
	TranscriptCharLimit    int
	CVCharLimit            int
	BatchGroupSize         int
	QualificationThreshold float64
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("POSTGRES_DSN")
	readSecret("SUPABASE_JWT_SECRET")
	readSecret("ASSEMBLYAI_API_KEY")
	readSecret("OPENAI_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("postgres.dsn", "POSTGRES_DSN")
	_ = viper.BindEnv("postgres.max_open_conns", "POSTGRES_MAX_OPEN_CONNS")
	_ = viper.BindEnv("postgres.max_idle_conns", "POSTGRES_MAX_IDLE_CONNS")
	_ = viper.BindEnv("jwt.secret", "SUPABASE_JWT_SECRET")
	_ = viper.BindEnv("assemblyai.api_key", "ASSEMBLYAI_API_KEY")
	_ = viper.BindEnv("assemblyai.base_url", "ASSEMBLYAI_BASE_URL")
	_ = viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = viper.BindEnv("openai.model", "OPENAI_MODEL")
	_ = viper.BindEnv("openai.timeout", "OPENAI_TIMEOUT")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("billing.service_url", "BILLING_SERVICE_URL")
	_ = viper.BindEnv("billing.timeout", "BILLING_SERVICE_TIMEOUT")
	_ = viper.BindEnv("pipeline.poll_interval_seconds", "PIPELINE_POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("pipeline.max_poll_attempts", "PIPELINE_MAX_POLL_ATTEMPTS")
	_ = viper.BindEnv("pipeline.transcript_char_limit", "PIPELINE_TRANSCRIPT_CHAR_LIMIT")
	_ = viper.BindEnv("pipeline.cv_char_limit", "PIPELINE_CV_CHAR_LIMIT")
	_ = viper.BindEnv("pipeline.batch_group_size", "PIPELINE_BATCH_GROUP_SIZE")
	_ = viper.BindEnv("pipeline.qualification_threshold", "PIPELINE_QUALIFICATION_THRESHOLD")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("postgres.dsn", "")
	viper.SetDefault("postgres.max_open_conns", 10)
	viper.SetDefault("postgres.max_idle_conns", 5)
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("ratelimit.analysis_per_hour", 30)
	viper.SetDefault("ratelimit.batch_per_hour", 5)
	viper.SetDefault("ratelimit.upload_per_hour", 100)

	// AssemblyAI defaults
	viper.SetDefault("assemblyai.base_url", "https://api.assemblyai.com")

	// OpenAI defaults
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.timeout", 60)

	// Billing service defaults
	viper.SetDefault("billing.service_url", "")
	viper.SetDefault("billing.timeout", 10)

	// Pipeline defaults: 60 polls at 5s bounds transcription at ~5 minutes.
	viper.SetDefault("pipeline.poll_interval_seconds", 5)
	viper.SetDefault("pipeline.max_poll_attempts", 60)
	viper.SetDefault("pipeline.transcript_char_limit", 12000)
	viper.SetDefault("pipeline.cv_char_limit", 8000)
	viper.SetDefault("pipeline.batch_group_size", 3)
	viper.SetDefault("pipeline.qualification_threshold", 5.0)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Postgres: PostgresConfig{
			DSN:          viper.GetString("postgres.dsn"),
			MaxOpenConns: viper.GetInt("postgres.max_open_conns"),
			MaxIdleConns: viper.GetInt("postgres.max_idle_conns"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			AnalysisPerHour: viper.GetInt("ratelimit.analysis_per_hour"),
			BatchPerHour:    viper.GetInt("ratelimit.batch_per_hour"),
			UploadPerHour:   viper.GetInt("ratelimit.upload_per_hour"),
		},
		AssemblyAI: AssemblyAIConfig{
			APIKey:  viper.GetString("assemblyai.api_key"),
			BaseURL: viper.GetString("assemblyai.base_url"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  viper.GetString("openai.api_key"),
			BaseURL: viper.GetString("openai.base_url"),
			Model:   viper.GetString("openai.model"),
			Timeout: viper.GetInt("openai.timeout"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Billing: BillingConfig{
			ServiceURL: viper.GetString("billing.service_url"),
			Timeout:    viper.GetInt("billing.timeout"),
		},
		Pipeline: PipelineConfig{
			PollIntervalSeconds:    viper.GetInt("pipeline.poll_interval_seconds"),
			MaxPollAttempts:        viper.GetInt("pipeline.max_poll_attempts"),
			TranscriptCharLimit:    viper.GetInt("pipeline.transcript_char_limit"),
			CVCharLimit:            viper.GetInt("pipeline.cv_char_limit"),
			BatchGroupSize:         viper.GetInt("pipeline.batch_group_size"),
			QualificationThreshold: viper.GetFloat64("pipeline.qualification_threshold"),
		},
	}

	return cfg, nil
}
