package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/grantd/internal/catalog"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres | redis
		Driver   string `yaml:"driver"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
		Redis struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	JWT struct {
		Issuer     string `yaml:"issuer"`
		AccessTTL  string `yaml:"access_ttl"`
		IDTokenTTL string `yaml:"id_token_ttl"`
		RefreshTTL string `yaml:"refresh_ttl"`
	} `yaml:"jwt"`

	OAuth struct {
		CodeTTL           string `yaml:"code_ttl"`
		ConsentSessionTTL string `yaml:"consent_session_ttl"`
		ConsentDefaultTTL string `yaml:"consent_default_ttl"`
	} `yaml:"oauth"`

	Device struct {
		TTL             string `yaml:"ttl"`
		PollInterval    string `yaml:"poll_interval"`
		VerificationURI string `yaml:"verification_uri"`
	} `yaml:"device"`

	Sweep struct {
		Interval string `yaml:"interval"`
	} `yaml:"sweep"`

	// Catálogo estático de clientes y scopes. Un deployment grande lo movería
	// a su propio archivo; para el engine es solo entrada de validación.
	Clients []catalog.Client `yaml:"clients"`
	Scopes  []catalog.Scope  `yaml:"scopes"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.JWT.AccessTTL == "" {
		c.JWT.AccessTTL = "15m"
	}
	if c.JWT.IDTokenTTL == "" {
		c.JWT.IDTokenTTL = "15m"
	}
	if c.JWT.RefreshTTL == "" {
		c.JWT.RefreshTTL = "720h" // 30d
	}
	if c.OAuth.CodeTTL == "" {
		c.OAuth.CodeTTL = "5m"
	}
	if c.OAuth.ConsentSessionTTL == "" {
		c.OAuth.ConsentSessionTTL = "15m"
	}
	if c.OAuth.ConsentDefaultTTL == "" {
		c.OAuth.ConsentDefaultTTL = "4320h" // 180d
	}
	if c.Device.TTL == "" {
		c.Device.TTL = "10m"
	}
	if c.Device.PollInterval == "" {
		c.Device.PollInterval = "5s"
	}
	if c.Sweep.Interval == "" {
		c.Sweep.Interval = "1m"
	}

	// validate string durations
	for _, s := range []string{
		c.Cache.Memory.DefaultTTL,
		c.JWT.AccessTTL, c.JWT.IDTokenTTL, c.JWT.RefreshTTL,
		c.OAuth.CodeTTL, c.OAuth.ConsentSessionTTL, c.OAuth.ConsentDefaultTTL,
		c.Device.TTL, c.Device.PollInterval,
		c.Sweep.Interval,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return nil, err
		}
	}

	// Overrides por env
	c.applyEnvOverrides()

	return &c, nil
}

// Dur parsea una duración ya validada en Load.
func Dur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("POSTGRES_DSN"); ok {
		c.Storage.Postgres.DSN = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Storage.Redis.Addr = v
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Storage.Redis.DB = v
	}
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvStr("DEVICE_VERIFICATION_URI"); ok {
		c.Device.VerificationURI = v
	}
}
