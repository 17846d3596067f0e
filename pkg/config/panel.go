package config

import (
	"strings"
	"time"
)

// PanelConfig holds runtime configuration for the hosting panel.
type PanelConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string
	AccessTokenTTL time.Duration

	// SitesRoot is where deployed projects live. Dynamic projects end up
	// under SitesRoot/dynamic/<name>/{frontend,backend}.
	SitesRoot      string
	MaxUploadBytes int64

	PortRangeMin int
	PortRangeMax int

	InstallTimeout  time.Duration
	BuildTimeout    time.Duration
	ReadinessWindow time.Duration
	ReadinessGrace  time.Duration

	// Command lines for project installs, builds and backend start. Split on
	// whitespace at load time so operators can override the toolchain.
	InstallCommand []string
	BuildCommand   []string
	StartCommand   []string

	EventBuffer        int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadPanelConfig constructs a PanelConfig from environment variables.
func LoadPanelConfig() PanelConfig {
	return PanelConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("PANEL_ADDR", ":8080"),
		DatabaseURL:        GetString("DATABASE_URL", ""),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		SitesRoot:          GetString("SITES_ROOT", "hosted-sites"),
		MaxUploadBytes:     GetInt64("MAX_UPLOAD_BYTES", 100<<20),
		PortRangeMin:       GetInt("PORT_RANGE_MIN", 4001),
		PortRangeMax:       GetInt("PORT_RANGE_MAX", 5000),
		InstallTimeout:     GetSeconds("INSTALL_TIMEOUT_SECONDS", 10*time.Minute),
		BuildTimeout:       GetSeconds("BUILD_TIMEOUT_SECONDS", 10*time.Minute),
		ReadinessWindow:    GetSeconds("READINESS_WINDOW_SECONDS", 30*time.Second),
		ReadinessGrace:     GetSeconds("READINESS_GRACE_SECONDS", 5*time.Second),
		InstallCommand:     splitCommand(GetString("INSTALL_COMMAND", "npm install")),
		BuildCommand:       splitCommand(GetString("BUILD_COMMAND", "npm run build")),
		StartCommand:       splitCommand(GetString("START_COMMAND", "npm start")),
		EventBuffer:        GetInt("EVENT_BUFFER", 100),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}

func splitCommand(raw string) []string {
	return strings.Fields(raw)
}
