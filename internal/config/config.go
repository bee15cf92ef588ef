package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// AWSConfig holds settings for the AWS-hosted analysis and mail collaborators.
// Empty keys fall back to the default credential chain.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// AuthConfig configures bearer-token verification for the ingress API.
type AuthConfig struct {
	JWTSecret   string
	Issuer      string
	Audience    string
	EventsToken string
}

// WorkflowConfig carries the verification policy and run limits.
type WorkflowConfig struct {
	TTLDays     int
	TriggerMode string // "direct" or "event"

	StepTimeout time.Duration
	RunTimeout  time.Duration
	MaxRetries  int

	FieldConfidenceMin  float64
	ModerationMax       float64
	SimilarityThreshold float64

	MaxImageBytes int64
	MaxImageDim   int
	ResizeFactor  int
	ResizeQuality int
}

// NotifyConfig configures outbound email.
type NotifyConfig struct {
	FromAddress string
}

// SchedulerConfig configures the expiry sweeper and the stale-run reaper.
type SchedulerConfig struct {
	Enabled   bool
	Schedule  string
	BatchSize int
	Workers   int

	StaleSchedule string
	// StaleGrace is added to the run timeout before an unfinished run is abandoned.
	StaleGrace time.Duration
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string
	Format string
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost   string
	Port      string
	Database  DatabaseConfig
	MinIO     MinIOConfig
	AWS       AWSConfig
	Auth      AuthConfig
	Workflow  WorkflowConfig
	Notify    NotifyConfig
	Scheduler SchedulerConfig
	Log       LogConfig
}

const (
	TriggerDirect = "direct"
	TriggerEvent  = "event"
)

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost: getEnv("APP_HOST", "localhost:8080"),
		Port:    getEnv("PORT", "8080"),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		Auth: AuthConfig{
			JWTSecret:   getEnv("JWT_SECRET", ""),
			Issuer:      getEnv("JWT_ISSUER", ""),
			Audience:    getEnv("JWT_AUDIENCE", ""),
			EventsToken: getEnv("EVENTS_TOKEN", ""),
		},
		Workflow: WorkflowConfig{
			TTLDays:             getEnvInt("VERIFICATION_TTL_DAYS", 365),
			TriggerMode:         getEnv("TRIGGER_MODE", TriggerDirect),
			StepTimeout:         getEnvDuration("STEP_TIMEOUT", 30*time.Second),
			RunTimeout:          getEnvDuration("RUN_TIMEOUT", 5*time.Minute),
			MaxRetries:          getEnvInt("STEP_MAX_RETRIES", 2),
			FieldConfidenceMin:  getEnvFloat("FIELD_CONFIDENCE_MIN", 90),
			ModerationMax:       getEnvFloat("MODERATION_CONFIDENCE_MAX", 80),
			SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 80),
			MaxImageBytes:       int64(getEnvInt("MAX_IMAGE_BYTES", 10*1024*1024)),
			MaxImageDim:         getEnvInt("MAX_IMAGE_DIMENSION", 4000),
			ResizeFactor:        getEnvInt("RESIZE_FACTOR", 2),
			ResizeQuality:       getEnvInt("RESIZE_JPEG_QUALITY", 70),
		},
		Notify: NotifyConfig{
			FromAddress: getEnv("NOTIFY_FROM_ADDRESS", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:   getEnvBool("EXPIRY_SWEEP_ENABLED", true),
			Schedule:  getEnv("EXPIRY_SWEEP_SCHEDULE", "0 3 * * *"),
			BatchSize: getEnvInt("EXPIRY_SWEEP_BATCH", 100),
			Workers:   getEnvInt("EXPIRY_SWEEP_WORKERS", 4),

			StaleSchedule: getEnv("STALE_SWEEP_SCHEDULE", "*/5 * * * *"),
			StaleGrace:    getEnvDuration("STALE_RUN_GRACE", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings ("45s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if s, err := strconv.Atoi(v); err == nil {
		return time.Duration(s) * time.Second
	}
	return def
}
