package config

import (
	"fmt"
	"log"
	"os"
	"time"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env              string
	HTTPPort         string
	StoreBaseURL     string
	RequestTimeout   time.Duration
	RetryAttempts    int
	CacheTTL         time.Duration
	SessionSeconds   int
	VisibilityWindow time.Duration
	OTPTimeout       time.Duration
	PollInterval     time.Duration
	RedisAddr        string
	QueueBackend     string
	JWTIssuer        string
	JWTSigningKey    string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	RateLimitWindow  time.Duration
	RateLimitMax     int
	CORSOrigins      string
}

// Load returns application config populated from environment variables with sensible defaults.
func Load() App {
	return App{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		StoreBaseURL:     getEnv("STORE_BASE_URL", "http://localhost:3001"),
		RequestTimeout:   durationEnv("REQUEST_TIMEOUT", 10*time.Second),
		RetryAttempts:    intEnv("RETRY_ATTEMPTS", 3),
		CacheTTL:         durationEnv("CACHE_TTL", 5*time.Minute),
		SessionSeconds:   intEnv("SESSION_TIMEOUT_SECONDS", 600),
		VisibilityWindow: durationEnv("SESSION_VISIBILITY_WINDOW", 15*time.Minute),
		OTPTimeout:       durationEnv("OTP_TIMEOUT", 5*time.Minute),
		PollInterval:     durationEnv("POLL_INTERVAL", time.Second),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		QueueBackend:     getEnv("QUEUE_BACKEND", "memory"),
		JWTIssuer:        getEnv("JWT_ISSUER", "asistencia"),
		JWTSigningKey:    getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:        durationEnv("ACCESS_TTL", 15*time.Minute),
		RefreshTTL:       durationEnv("REFRESH_TTL", 24*time.Hour),
		RateLimitWindow:  durationEnv("RATE_LIMIT_WINDOW", 15*time.Minute),
		RateLimitMax:     intEnv("RATE_LIMIT_MAX_REQUESTS", 100),
		CORSOrigins:      getEnv("CORS_ORIGIN", "http://localhost:3000"),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
