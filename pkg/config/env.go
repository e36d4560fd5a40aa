package config

const EnvPrefix = "MOHA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv              = "MOHA_APP_ENV"
	EnvPort                = "MOHA_APP_PORT"
	EnvDBDSN               = "MOHA_DB_DSN"
	EnvDBHost              = "MOHA_DB_HOST"
	EnvDBUser              = "MOHA_DB_USER"
	EnvDBName              = "MOHA_DB_NAME"
	EnvRedisURL            = "MOHA_REDIS_URL"
	EnvJWTSecret           = "MOHA_JWT_SECRET"
	EnvJWTIssuer           = "MOHA_JWT_ISSUER"
	EnvJWTExpMins          = "MOHA_JWT_EXPIRATION_MINUTES"
	EnvMpesaEnv            = "MOHA_MPESA_ENV"
	EnvMpesaConsumerKey    = "MOHA_MPESA_CONSUMER_KEY"
	EnvMpesaConsumerSecret = "MOHA_MPESA_CONSUMER_SECRET"
	EnvMpesaPasskey        = "MOHA_MPESA_PASSKEY"
	EnvPaymentStaleAfter   = "MOHA_PAYMENT_STALE_AFTER"
)

const (
	MpesaEnvSandbox    = "sandbox"
	MpesaEnvProduction = "production"

	MpesaSandboxURL    = "https://sandbox.safaricom.co.ke"
	MpesaProductionURL = "https://api.safaricom.co.ke"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
