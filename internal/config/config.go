package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	LogLevel              string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	ShutdownTimeoutSec    int

	// AllowedOrigins is used for CORS outside dev; empty means same host only.
	AllowedOrigins []string
	HTTPRatePerSec int
	HTTPBurst      int

	// RedisAddr enables the history cache when set.
	RedisAddr       string
	HistoryCacheTTL int

	WS WSConfig
}

// WSConfig 控制单个 WebSocket 连接的传输参数。
type WSConfig struct {
	RequireToken    bool
	SendBuffer      int
	MaxMessageBytes int64
	PingIntervalSec int
	PongWaitSec     int
	WriteWaitSec    int
	EventsPerSecond int
	EventBurst      int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，非法或非正值回落到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatrelay port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   getenv("APP_ENV", "dev"),
		LogLevel:              strings.ToLower(getenv("LOG_LEVEL", "info")),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		ShutdownTimeoutSec:    getenvInt("SHUTDOWN_TIMEOUT_SECONDS", 15),
		AllowedOrigins:        getenvList("CORS_ALLOWED_ORIGINS"),
		HTTPRatePerSec:        getenvInt("HTTP_RATE_PER_SECOND", 10),
		HTTPBurst:             getenvInt("HTTP_RATE_BURST", 20),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		HistoryCacheTTL:       getenvInt("HISTORY_CACHE_TTL_SECONDS", 300),
		WS: WSConfig{
			RequireToken:    getenvBool("WS_REQUIRE_TOKEN", false),
			SendBuffer:      getenvInt("WS_SEND_BUFFER", 256),
			MaxMessageBytes: int64(getenvInt("WS_MAX_MESSAGE_BYTES", 4<<20)),
			PingIntervalSec: getenvInt("WS_PING_INTERVAL", 30),
			PongWaitSec:     getenvInt("WS_PONG_WAIT", 60),
			WriteWaitSec:    getenvInt("WS_WRITE_WAIT", 10),
			EventsPerSecond: getenvInt("WS_EVENTS_PER_SECOND", 20),
			EventBurst:      getenvInt("WS_EVENT_BURST", 40),
		},
	}
}

// Validate 在启动前拒绝明显错误的配置，非 dev 环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.Env != "dev" && (cfg.JWTSecret == "" || cfg.JWTSecret == defaultJWTSecret) {
		return errors.New("JWT_SECRET must be set outside dev")
	}
	return nil
}
