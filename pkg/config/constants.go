package config

const (
	// EnvPrefix is passed to envconfig; individual tags carry the full name.
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "PIXELMINT_DB_DSN"
	EnvDBHost = "PIXELMINT_DB_HOST"
	EnvDBUser = "PIXELMINT_DB_USER"
	EnvDBName = "PIXELMINT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
