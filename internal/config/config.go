package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	RedisURL    string
	DatabaseURL string
	CORSOrigin  string

	SessionSecret string
	SessionTTL    time.Duration

	// APNs push gateway
	APNSCertPath     string
	APNSCertPassword string
	APNSTopic        string
	APNSSandbox      bool
	PushSound        string

	// Identity verification
	FacebookGraphURL string
}

func Load() Config {
	return Config{
		Addr:        getenv("API_ADDR", ":4000"),
		RedisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		CORSOrigin:  getenv("KUDOS_CORS_ORIGIN", "*"),

		SessionSecret: getenv("KUDOS_SESSION_SECRET", "kudos-dev-secret"),
		SessionTTL:    time.Duration(getenvInt("KUDOS_SESSION_TTL_SECONDS", 2592000)) * time.Second,

		// APNs - empty cert path disables push delivery
		APNSCertPath:     getenv("APNS_CERT_PATH", ""),
		APNSCertPassword: getenv("APNS_CERT_PASSWORD", ""),
		APNSTopic:        getenv("APNS_TOPIC", ""),
		APNSSandbox:      getenvBool("APNS_SANDBOX", true),
		PushSound:        getenv("PUSH_SOUND", "Hope.aif"),

		FacebookGraphURL: getenv("FACEBOOK_GRAPH_URL", "https://graph.facebook.com"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
