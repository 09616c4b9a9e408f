package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	FeatureFlags FeatureFlagsConfig
	Redis        RedisConfig
	Session      SessionConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	Upload       UploadConfig
	OCR          OCRConfig
	Status       StatusConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Upload.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MEDCART_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"MEDCART_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEDCART_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN        string `envconfig:"MEDCART_DB_DSN"`
	SQLitePath string `envconfig:"MEDCART_DB_SQLITE_PATH" default:"medcart.db"`

	Host     string `envconfig:"MEDCART_DB_HOST"`
	Port     int    `envconfig:"MEDCART_DB_PORT" default:"5432"`
	User     string `envconfig:"MEDCART_DB_USER"`
	Password string `envconfig:"MEDCART_DB_PASSWORD"`
	Name     string `envconfig:"MEDCART_DB_NAME"`
	SSLMode  string `envconfig:"MEDCART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEDCART_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"MEDCART_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"MEDCART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEDCART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MEDCART_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MEDCART_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MEDCART_REDIS_URL"`
	Address      string        `envconfig:"MEDCART_REDIS_ADDR"`
	Password     string        `envconfig:"MEDCART_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEDCART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEDCART_REDIS_POOL_SIZE" default:"4"`
	DialTimeout  time.Duration `envconfig:"MEDCART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEDCART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEDCART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type SessionConfig struct {
	Token string        `envconfig:"MEDCART_SESSION_TOKEN"`
	TTL   time.Duration `envconfig:"MEDCART_SESSION_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MEDCART_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"MEDCART_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MEDCART_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName    string        `envconfig:"MEDCART_GCS_BUCKET_NAME" required:"true"`
	ObjectPrefix  string        `envconfig:"MEDCART_GCS_OBJECT_PREFIX" default:"prescriptions"`
	UploadTimeout time.Duration `envconfig:"MEDCART_GCS_UPLOAD_TIMEOUT" default:"10m"`
	PublicBaseURL string        `envconfig:"MEDCART_GCS_PUBLIC_BASE_URL" default:"https://storage.googleapis.com"`
}

type PubSubConfig struct {
	PrescriptionsTopic        string `envconfig:"MEDCART_PUBSUB_PRESCRIPTIONS_TOPIC"`
	PrescriptionsSubscription string `envconfig:"MEDCART_PUBSUB_PRESCRIPTIONS_SUBSCRIPTION"`
}

// Enabled reports whether change events should flow through Pub/Sub.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.PrescriptionsTopic) != ""
}

type UploadConfig struct {
	MaxFileMB          int           `envconfig:"MEDCART_UPLOAD_MAX_FILE_MB" default:"5"`
	StallThreshold     time.Duration `envconfig:"MEDCART_UPLOAD_STALL_THRESHOLD" default:"30s"`
	StallPollInterval  time.Duration `envconfig:"MEDCART_UPLOAD_STALL_POLL_INTERVAL" default:"5s"`
	MaxConcurrent      int           `envconfig:"MEDCART_UPLOAD_MAX_CONCURRENT" default:"4"`
	ExtractionDrainMax time.Duration `envconfig:"MEDCART_UPLOAD_EXTRACTION_DRAIN" default:"2m"`
}

// MaxFileBytes returns the per-file size ceiling in bytes.
func (u UploadConfig) MaxFileBytes() int64 {
	return int64(u.MaxFileMB) * 1024 * 1024
}

func (u UploadConfig) validate() error {
	if u.MaxFileMB <= 0 {
		return fmt.Errorf("%s must be positive", EnvUploadMaxFileMB)
	}
	if u.StallThreshold <= 0 || u.StallPollInterval <= 0 {
		return fmt.Errorf("stall threshold and poll interval must be positive")
	}
	if u.StallPollInterval > u.StallThreshold {
		return fmt.Errorf("stall poll interval (%s) must not exceed stall threshold (%s)", u.StallPollInterval, u.StallThreshold)
	}
	return nil
}

type OCRConfig struct {
	Enabled          bool          `envconfig:"MEDCART_OCR_ENABLED" default:"true"`
	OpenAIAPIKey     string        `envconfig:"MEDCART_OPENAI_API_KEY"`
	OpenAIModel      string        `envconfig:"MEDCART_OCR_MODEL" default:"gpt-4o-mini"`
	Language         string        `envconfig:"MEDCART_OCR_LANGUAGE" default:"eng"`
	RasterizeScale   float64       `envconfig:"MEDCART_OCR_RASTERIZE_SCALE" default:"1.5"`
	GhostscriptPath  string        `envconfig:"MEDCART_OCR_GHOSTSCRIPT_PATH" default:"gs"`
	Timeout          time.Duration `envconfig:"MEDCART_OCR_TIMEOUT" default:"2m"`
}

type StatusConfig struct {
	Addr           string   `envconfig:"MEDCART_STATUS_ADDR"`
	AllowedOrigins []string `envconfig:"MEDCART_STATUS_ALLOWED_ORIGINS"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite || db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
