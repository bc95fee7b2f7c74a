package config

import (
	"os"
	"testing"
)

var envKeys = []string{
	"APP_PORT",
	"DATABASE_DSN",
	"JWT_SECRET",
	"APP_ENV",
	"ACCESS_TOKEN_TTL_MINUTES",
	"REFRESH_TOKEN_TTL_DAYS",
	"REDIS_ADDR",
	"CORS_ALLOWED_ORIGINS",
	"HTTP_RATE_PER_SECOND",
	"WS_REQUIRE_TOKEN",
	"WS_SEND_BUFFER",
	"WS_EVENTS_PER_SECOND",
}

func clearEnv() {
	for _, k := range envKeys {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Load() Env = %v, want dev", cfg.Env)
	}
	if cfg.AccessTokenTTLMinutes != 15 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 15", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RefreshTokenTTLDays != 7 {
		t.Errorf("Load() RefreshTokenTTLDays = %v, want 7", cfg.RefreshTokenTTLDays)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("Load() RedisAddr = %v, want empty", cfg.RedisAddr)
	}
	if cfg.WS.RequireToken {
		t.Error("Load() WS.RequireToken = true, want false")
	}
	if cfg.WS.SendBuffer != 256 {
		t.Errorf("Load() WS.SendBuffer = %v, want 256", cfg.WS.SendBuffer)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("Load() AllowedOrigins = %v, want empty", cfg.AllowedOrigins)
	}
	if cfg.HTTPRatePerSec != 10 {
		t.Errorf("Load() HTTPRatePerSec = %v, want 10", cfg.HTTPRatePerSec)
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	clearEnv()
	os.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	defer clearEnv()

	cfg := Load()
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example" || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Load() AllowedOrigins = %q", cfg.AllowedOrigins)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	os.Setenv("APP_PORT", "9090")
	os.Setenv("DATABASE_DSN", "sqlite:chat.db")
	os.Setenv("JWT_SECRET", "my-secret")
	os.Setenv("APP_ENV", "prod")
	os.Setenv("ACCESS_TOKEN_TTL_MINUTES", "30")
	os.Setenv("REFRESH_TOKEN_TTL_DAYS", "14")
	os.Setenv("REDIS_ADDR", "localhost:6379")
	os.Setenv("WS_REQUIRE_TOKEN", "true")
	os.Setenv("WS_EVENTS_PER_SECOND", "5")
	defer clearEnv()

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", cfg.Port)
	}
	if cfg.DatabaseDSN != "sqlite:chat.db" {
		t.Errorf("Load() DatabaseDSN = %v, want sqlite:chat.db", cfg.DatabaseDSN)
	}
	if cfg.JWTSecret != "my-secret" {
		t.Errorf("Load() JWTSecret = %v, want my-secret", cfg.JWTSecret)
	}
	if cfg.Env != "prod" {
		t.Errorf("Load() Env = %v, want prod", cfg.Env)
	}
	if cfg.AccessTokenTTLMinutes != 30 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 30", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RefreshTokenTTLDays != 14 {
		t.Errorf("Load() RefreshTokenTTLDays = %v, want 14", cfg.RefreshTokenTTLDays)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Load() RedisAddr = %v, want localhost:6379", cfg.RedisAddr)
	}
	if !cfg.WS.RequireToken {
		t.Error("Load() WS.RequireToken = false, want true")
	}
	if cfg.WS.EventsPerSecond != 5 {
		t.Errorf("Load() WS.EventsPerSecond = %v, want 5", cfg.WS.EventsPerSecond)
	}
}

func TestLoad_InvalidNumbers(t *testing.T) {
	os.Setenv("ACCESS_TOKEN_TTL_MINUTES", "invalid")
	os.Setenv("REFRESH_TOKEN_TTL_DAYS", "-5")
	os.Setenv("WS_SEND_BUFFER", "0")
	defer clearEnv()

	cfg := Load()

	if cfg.AccessTokenTTLMinutes != 15 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 15 (default)", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RefreshTokenTTLDays != 7 {
		t.Errorf("Load() RefreshTokenTTLDays = %v, want 7 (default)", cfg.RefreshTokenTTLDays)
	}
	if cfg.WS.SendBuffer != 256 {
		t.Errorf("Load() WS.SendBuffer = %v, want 256 (default)", cfg.WS.SendBuffer)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid dev config",
			cfg:     Config{Port: "8080", DatabaseDSN: "sqlite:chat.db", JWTSecret: defaultJWTSecret, Env: "dev"},
			wantErr: false,
		},
		{
			name:    "valid prod config",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: "production-secret-key", Env: "prod"},
			wantErr: false,
		},
		{
			name:    "empty port",
			cfg:     Config{Port: "", DatabaseDSN: "postgres://localhost/test", JWTSecret: "secret", Env: "dev"},
			wantErr: true,
		},
		{
			name:    "empty dsn",
			cfg:     Config{Port: "8080", DatabaseDSN: "", JWTSecret: "secret", Env: "dev"},
			wantErr: true,
		},
		{
			name:    "default secret in prod",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: defaultJWTSecret, Env: "prod"},
			wantErr: true,
		},
		{
			name:    "empty secret in test env",
			cfg:     Config{Port: "8080", DatabaseDSN: "postgres://localhost/test", JWTSecret: "", Env: "test"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
