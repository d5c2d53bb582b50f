package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AuthMode string

const (
	AuthModeDev  AuthMode = "dev"
	AuthModeJWT  AuthMode = "jwt"
	AuthModeOdin AuthMode = "odin"
)

type Config struct {
	Port string

	DBDSN string

	LogLevel  string
	LogFormat string
	LogFile   string
	AppName   string

	AuthMode   AuthMode
	JWTSecret  string
	JWTIssuer  string
	OdinURL    string
	OdinAPIKey string

	// MasterAdminEmails: cuentas que se crean con flag de master admin.
	MasterAdminEmails []string

	RedisAddr       string
	ActivityStream  string
	ActivityTimeout time.Duration

	InvitationTTL time.Duration
}

// Load lee env vars (PORT, DB_DSN, LOG_LEVEL, ...) con defaults para dev.
func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("APP_NAME", "vet-practice-records")
	v.SetDefault("AUTH_MODE", string(AuthModeDev))
	v.SetDefault("ACTIVITY_STREAM", "vet:activity")
	v.SetDefault("ACTIVITY_TIMEOUT", 2*time.Second)
	v.SetDefault("INVITATION_TTL", 7*24*time.Hour)

	return fromViper(v)
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Port:              strings.TrimSpace(v.GetString("PORT")),
		DBDSN:             strings.TrimSpace(v.GetString("DB_DSN")),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogFormat:         v.GetString("LOG_FORMAT"),
		LogFile:           strings.TrimSpace(v.GetString("LOG_FILE")),
		AppName:           v.GetString("APP_NAME"),
		AuthMode:          AuthMode(strings.ToLower(strings.TrimSpace(v.GetString("AUTH_MODE")))),
		JWTSecret:         v.GetString("JWT_SECRET"),
		JWTIssuer:         v.GetString("JWT_ISSUER"),
		OdinURL:           strings.TrimSpace(v.GetString("ODIN_BASE_URL")),
		OdinAPIKey:        strings.TrimSpace(v.GetString("ODIN_API_KEY")),
		MasterAdminEmails: splitCSV(v.GetString("MASTER_ADMIN_EMAILS")),
		RedisAddr:         strings.TrimSpace(v.GetString("REDIS_ADDR")),
		ActivityStream:    v.GetString("ACTIVITY_STREAM"),
		ActivityTimeout:   v.GetDuration("ACTIVITY_TIMEOUT"),
		InvitationTTL:     v.GetDuration("INVITATION_TTL"),
	}
}

func splitCSV(raw string) []string {
	out := make([]string, 0)
	for _, p := range strings.Split(raw, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
