package config

const EnvPrefix = "MEDCART"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "MEDCART_APP_ENV"
	EnvLogLevel = "MEDCART_LOG_LEVEL"

	EnvDBDSN  = "MEDCART_DB_DSN"
	EnvDBHost = "MEDCART_DB_HOST"
	EnvDBUser = "MEDCART_DB_USER"
	EnvDBName = "MEDCART_DB_NAME"

	EnvUseSQLite = "MEDCART_USE_SQLITE"

	EnvRedisURL = "MEDCART_REDIS_URL"

	EnvGCPProjectID = "MEDCART_GCP_PROJECT_ID"
	EnvGCSBucket    = "MEDCART_GCS_BUCKET_NAME"

	EnvPubSubPrescriptionsTopic = "MEDCART_PUBSUB_PRESCRIPTIONS_TOPIC"

	EnvUploadMaxFileMB         = "MEDCART_UPLOAD_MAX_FILE_MB"
	EnvUploadStallThreshold    = "MEDCART_UPLOAD_STALL_THRESHOLD"
	EnvUploadStallPollInterval = "MEDCART_UPLOAD_STALL_POLL_INTERVAL"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
