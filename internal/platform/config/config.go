package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Modos de autenticación soportados por el API.
const (
	AuthModeDev  = "dev"  // headers X-Debug-User-*, sin verificación
	AuthModeOdin = "odin" // IAM externo
	AuthModeJWT  = "jwt"  // bearer HS256 verificado localmente
)

type Config struct {
	App struct {
		Name string `yaml:"name"`
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		// Vacío => store in-memory.
		DSN            string `yaml:"dsn"`
		MigrateOnStart bool   `yaml:"migrate_on_start"`
	} `yaml:"storage"`

	Auth struct {
		Mode string `yaml:"mode"`
		Odin struct {
			BaseURL      string        `yaml:"base_url"`
			APIKey       string        `yaml:"api_key"`
			APIKeyHeader string        `yaml:"api_key_header"`
			Timeout      time.Duration `yaml:"timeout"`
			CacheTTL     time.Duration `yaml:"cache_ttl"`
		} `yaml:"odin"`
		JWT struct {
			Secret   string        `yaml:"secret"`
			Issuer   string        `yaml:"issuer"`
			Audience string        `yaml:"audience"`
			Leeway   time.Duration `yaml:"leeway"`
		} `yaml:"jwt"`
	} `yaml:"auth"`

	Redis struct {
		// Vacío => rate limit en memoria del proceso.
		Addr   string `yaml:"addr"`
		DB     int    `yaml:"db"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`

	Rate struct {
		Claim struct {
			Limit  int           `yaml:"limit"`
			Window time.Duration `yaml:"window"`
		} `yaml:"claim"`
	} `yaml:"rate"`

	Sweeper struct {
		// Disabled apaga el barrido periódico; la expiración lazy sigue activa.
		Disabled bool          `yaml:"disabled"`
		Interval time.Duration `yaml:"interval"`
		Batch    int           `yaml:"batch"`
	} `yaml:"sweeper"`

	Audit struct {
		// Ventana de dedup de denegaciones repetidas.
		DedupWindow time.Duration `yaml:"dedup_window"`
	} `yaml:"audit"`

	Notify struct {
		Timeout time.Duration `yaml:"timeout"`
		Webhook struct {
			URL    string `yaml:"url"`
			Secret string `yaml:"secret"`
		} `yaml:"webhook"`
	} `yaml:"notify"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load lee el YAML (si path no es vacío), aplica defaults, overrides por env
// y valida. Sin archivo la config sale solo de defaults + env.
func Load(path string) (*Config, error) {
	var c Config
	if p := strings.TrimSpace(path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", p, err)
		}
	}

	c.applyDefaults()
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default devuelve la config con defaults, sin archivo ni env.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "clinical-consent"
	}
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthModeDev
	}
	if c.Auth.Odin.Timeout == 0 {
		c.Auth.Odin.Timeout = 5 * time.Second
	}
	if c.Auth.Odin.CacheTTL == 0 {
		c.Auth.Odin.CacheTTL = 30 * time.Second
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "consent:rl:"
	}
	if c.Rate.Claim.Limit == 0 {
		c.Rate.Claim.Limit = 10
	}
	if c.Rate.Claim.Window == 0 {
		c.Rate.Claim.Window = time.Minute
	}
	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = time.Minute
	}
	if c.Sweeper.Batch == 0 {
		c.Sweeper.Batch = 200
	}
	if c.Audit.DedupWindow == 0 {
		c.Audit.DedupWindow = time.Minute
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// applyEnvOverrides respeta los nombres históricos (PORT, DB_DSN, LOG_*,
// APP_NAME) y agrega CONSENT_* para lo propio del servicio.
func (c *Config) applyEnvOverrides() error {
	// APP
	if v, ok := getEnvStr("APP_NAME"); ok {
		c.App.Name = v
	}
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("PORT"); ok {
		c.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// STORAGE
	if v, ok := getEnvStr("DB_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok, err := getEnvBool("DB_MIGRATE_ON_START"); err != nil {
		return err
	} else if ok {
		c.Storage.MigrateOnStart = v
	}

	// AUTH
	if v, ok := getEnvStr("CONSENT_AUTH_MODE"); ok {
		c.Auth.Mode = strings.ToLower(v)
	}
	if v, ok := getEnvStr("ODIN_BASE_URL"); ok {
		c.Auth.Odin.BaseURL = v
	}
	if v, ok := getEnvStr("ODIN_API_KEY"); ok {
		c.Auth.Odin.APIKey = v
	}
	if v, ok := getEnvStr("JWT_SECRET"); ok {
		c.Auth.JWT.Secret = v
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.Auth.JWT.Issuer = v
	}
	if v, ok := getEnvStr("JWT_AUDIENCE"); ok {
		c.Auth.JWT.Audience = v
	}

	// REDIS
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok, err := getEnvInt("REDIS_DB"); err != nil {
		return err
	} else if ok {
		c.Redis.DB = v
	}

	// RATE
	if v, ok, err := getEnvInt("CONSENT_CLAIM_RATE_LIMIT"); err != nil {
		return err
	} else if ok {
		c.Rate.Claim.Limit = v
	}
	if v, ok, err := getEnvDur("CONSENT_CLAIM_RATE_WINDOW"); err != nil {
		return err
	} else if ok {
		c.Rate.Claim.Window = v
	}

	// SWEEPER
	if v, ok, err := getEnvBool("CONSENT_SWEEP_DISABLED"); err != nil {
		return err
	} else if ok {
		c.Sweeper.Disabled = v
	}
	if v, ok, err := getEnvDur("CONSENT_SWEEP_INTERVAL"); err != nil {
		return err
	} else if ok {
		c.Sweeper.Interval = v
	}
	if v, ok, err := getEnvInt("CONSENT_SWEEP_BATCH"); err != nil {
		return err
	} else if ok {
		c.Sweeper.Batch = v
	}

	// AUDIT
	if v, ok, err := getEnvDur("CONSENT_AUDIT_DEDUP_WINDOW"); err != nil {
		return err
	} else if ok {
		c.Audit.DedupWindow = v
	}

	// NOTIFY
	if v, ok := getEnvStr("NOTIFY_WEBHOOK_URL"); ok {
		c.Notify.Webhook.URL = v
	}
	if v, ok := getEnvStr("NOTIFY_WEBHOOK_SECRET"); ok {
		c.Notify.Webhook.Secret = v
	}

	// LOG
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Auth.Mode {
	case AuthModeDev:
		if strings.EqualFold(c.App.Env, "prod") {
			errs = append(errs, errors.New("auth.mode=dev is not allowed in prod"))
		}
	case AuthModeOdin:
		if strings.TrimSpace(c.Auth.Odin.BaseURL) == "" || strings.TrimSpace(c.Auth.Odin.APIKey) == "" {
			errs = append(errs, errors.New("auth.odin.base_url and auth.odin.api_key are required"))
		}
	case AuthModeJWT:
		if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
			errs = append(errs, errors.New("auth.jwt.secret is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q not supported", c.Auth.Mode))
	}

	if c.Rate.Claim.Limit < 0 {
		errs = append(errs, errors.New("rate.claim.limit must be >= 0"))
	}
	if c.Rate.Claim.Window <= 0 {
		errs = append(errs, errors.New("rate.claim.window must be > 0"))
	}
	if c.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("sweeper.interval must be > 0"))
	}
	if c.Sweeper.Batch <= 0 {
		errs = append(errs, errors.New("sweeper.batch must be > 0"))
	}
	if c.Audit.DedupWindow < 0 {
		errs = append(errs, errors.New("audit.dedup_window must be >= 0"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be > 0"))
	}

	return errors.Join(errs...)
}

func getEnvStr(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func getEnvInt(key string) (int, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return i, true, nil
}

func getEnvBool(key string) (bool, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

func getEnvDur(key string) (time.Duration, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}
