// Package config carga la configuración del servicio desde YAML y la pisa
// con variables de entorno. Una sola struct Config viaja por todo el wiring.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env  string `yaml:"app_env"`
		Name string `yaml:"name"`
	} `yaml:"app"`

	Server struct {
		Addr        string `yaml:"addr"`
		AdminAPIKey string `yaml:"admin_api_key"`
	} `yaml:"server"`

	CRM struct {
		BaseURL string        `yaml:"base_url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"crm"`

	Storage struct {
		Driver string `yaml:"driver"` // postgres | memory
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Rate struct {
		// Presupuesto diario por clase de endpoint; "crm:read", "crm:write", etc.
		Limits       map[string]int64 `yaml:"limits"`
		DefaultLimit int64            `yaml:"default_limit"`
		BaseDelay    time.Duration    `yaml:"base_delay"`
		MaxDelay     time.Duration    `yaml:"max_delay"`
		Jitter       float64          `yaml:"jitter"`
	} `yaml:"rate"`

	Breaker struct {
		Threshold   int           `yaml:"threshold"`
		OpenTimeout time.Duration `yaml:"open_timeout"`
	} `yaml:"breaker"`

	Memory struct {
		ThresholdPercent float64 `yaml:"threshold_percent"`
		AlertPercent     float64 `yaml:"alert_percent"`
		CriticalPercent  float64 `yaml:"critical_percent"`
		MinBatch         int     `yaml:"min_batch"`
		MaxBatch         int     `yaml:"max_batch"`
		LimitBytes       uint64  `yaml:"limit_bytes"`
	} `yaml:"memory"`

	Health struct {
		TTL                    time.Duration `yaml:"ttl"`
		FailureThreshold       int           `yaml:"failure_threshold"`
		DegradationThresholdMs int64         `yaml:"degradation_threshold_ms"`
		Interval               time.Duration `yaml:"interval"`
	} `yaml:"health"`

	Sync struct {
		EntityTypes      []string      `yaml:"entity_types"`
		EndpointClass    string        `yaml:"endpoint_class"`
		FetchCost        int64         `yaml:"fetch_cost"`
		MaxPages         int           `yaml:"max_pages"`
		RunTimeout       time.Duration `yaml:"run_timeout"`
		CallTimeout      time.Duration `yaml:"call_timeout"`
		ScheduleInterval time.Duration `yaml:"schedule_interval"` // 0 = sin scheduler
	} `yaml:"sync"`

	Webhook struct {
		MergeStrategy        string        `yaml:"merge_strategy"`
		AllowUnknownAsUpdate bool          `yaml:"allow_unknown_as_update"`
		HeuristicMerge       bool          `yaml:"heuristic_merge"`
		HeuristicWindow      time.Duration `yaml:"heuristic_window"`
	} `yaml:"webhook"`

	SMTP struct {
		Host     string   `yaml:"host"`
		Port     int      `yaml:"port"`
		Username string   `yaml:"username"`
		Password string   `yaml:"password"`
		From     string   `yaml:"from"`
		To       []string `yaml:"to"`
	} `yaml:"smtp"`

	Workers struct {
		Count       int           `yaml:"count"`
		QueueSize   int           `yaml:"queue_size"`
		DeferDelay  time.Duration `yaml:"defer_delay"`
		MaxAttempts int           `yaml:"max_attempts"`
	} `yaml:"workers"`
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
	if c.App.Name == "" {
		c.App.Name = "crmbridge"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.CRM.Timeout == 0 {
		c.CRM.Timeout = 30 * time.Second
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
	if c.Rate.DefaultLimit == 0 {
		c.Rate.DefaultLimit = 10000
	}
	if c.Rate.BaseDelay == 0 {
		c.Rate.BaseDelay = 2 * time.Second
	}
	if c.Rate.MaxDelay == 0 {
		c.Rate.MaxDelay = 5 * time.Minute
	}
	if c.Rate.Jitter == 0 {
		c.Rate.Jitter = 0.2
	}
	if c.Breaker.Threshold == 0 {
		c.Breaker.Threshold = 5
	}
	if c.Breaker.OpenTimeout == 0 {
		c.Breaker.OpenTimeout = 5 * time.Minute
	}
	if c.Memory.ThresholdPercent == 0 {
		c.Memory.ThresholdPercent = 80
	}
	if c.Memory.AlertPercent == 0 {
		c.Memory.AlertPercent = 85
	}
	if c.Memory.CriticalPercent == 0 {
		c.Memory.CriticalPercent = 95
	}
	if c.Memory.MinBatch == 0 {
		c.Memory.MinBatch = 10
	}
	if c.Memory.MaxBatch == 0 {
		c.Memory.MaxBatch = 500
	}
	if c.Health.TTL == 0 {
		c.Health.TTL = time.Minute
	}
	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = 3
	}
	if c.Health.DegradationThresholdMs == 0 {
		c.Health.DegradationThresholdMs = 2000
	}
	if len(c.Sync.EntityTypes) == 0 {
		c.Sync.EntityTypes = []string{"contacts", "companies", "deals"}
	}
	if c.Sync.EndpointClass == "" {
		c.Sync.EndpointClass = "crm:read"
	}
	if c.Sync.FetchCost == 0 {
		c.Sync.FetchCost = 1
	}
	if c.Sync.MaxPages == 0 {
		c.Sync.MaxPages = 20
	}
	if c.Sync.RunTimeout == 0 {
		c.Sync.RunTimeout = time.Hour
	}
	if c.Sync.CallTimeout == 0 {
		c.Sync.CallTimeout = 30 * time.Second
	}
	if c.Webhook.MergeStrategy == "" {
		c.Webhook.MergeStrategy = "keep_both"
	}
	if c.Webhook.HeuristicWindow == 0 {
		c.Webhook.HeuristicWindow = 30 * time.Second
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Workers.Count == 0 {
		c.Workers.Count = 4
	}
	if c.Workers.QueueSize == 0 {
		c.Workers.QueueSize = 256
	}
	if c.Workers.DeferDelay == 0 {
		c.Workers.DeferDelay = time.Minute
	}
	if c.Workers.MaxAttempts == 0 {
		c.Workers.MaxAttempts = 3
	}

	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
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
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno. Los secretos
// (token CRM, API key admin, password SMTP) normalmente llegan por acá.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("ADMIN_API_KEY"); ok {
		c.Server.AdminAPIKey = v
	}

	// CRM
	if v, ok := getEnvStr("CRM_BASE_URL"); ok {
		c.CRM.BaseURL = v
	}
	if v, ok := getEnvStr("CRM_TOKEN"); ok {
		c.CRM.Token = v
	}
	if v, ok := getEnvDur("CRM_TIMEOUT"); ok {
		c.CRM.Timeout = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("CACHE_REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("CACHE_REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("CACHE_REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}

	// RATE
	if v, ok := getEnvInt("RATE_DEFAULT_LIMIT"); ok {
		c.Rate.DefaultLimit = int64(v)
	}

	// BREAKER
	if v, ok := getEnvInt("BREAKER_THRESHOLD"); ok {
		c.Breaker.Threshold = v
	}
	if v, ok := getEnvDur("BREAKER_OPEN_TIMEOUT"); ok {
		c.Breaker.OpenTimeout = v
	}

	// SYNC
	if v, ok := getEnvCSV("SYNC_ENTITY_TYPES"); ok {
		c.Sync.EntityTypes = v
	}
	if v, ok := getEnvDur("SYNC_SCHEDULE_INTERVAL"); ok {
		c.Sync.ScheduleInterval = v
	}

	// WEBHOOK
	if v, ok := getEnvStr("WEBHOOK_MERGE_STRATEGY"); ok {
		c.Webhook.MergeStrategy = v
	}
	if v, ok := getEnvBool("WEBHOOK_HEURISTIC_MERGE"); ok {
		c.Webhook.HeuristicMerge = v
	}

	// SMTP
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}

	// WORKERS
	if v, ok := getEnvInt("WORKERS_COUNT"); ok {
		c.Workers.Count = v
	}
}

// Validate corta el arranque temprano ante combinaciones inválidas.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "pg", "memory":
	default:
		return fmt.Errorf("config: storage.driver %q no soportado", c.Storage.Driver)
	}
	if (c.Storage.Driver == "postgres" || c.Storage.Driver == "pg") && c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn requerido con driver postgres")
	}
	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: cache.kind %q no soportado", c.Cache.Kind)
	}
	if c.Cache.Kind == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("config: cache.redis.addr requerido con kind redis")
	}
	if _, err := time.ParseDuration(c.Cache.Memory.DefaultTTL); err != nil {
		return fmt.Errorf("config: cache.memory.default_ttl inválido: %w", err)
	}
	switch c.Webhook.MergeStrategy {
	case "keep_both", "keep_surviving", "keep_merged":
	default:
		return fmt.Errorf("config: webhook.merge_strategy %q no soportada", c.Webhook.MergeStrategy)
	}
	if c.Memory.ThresholdPercent <= 0 || c.Memory.ThresholdPercent >= 100 {
		return fmt.Errorf("config: memory.threshold_percent fuera de rango")
	}
	if c.Memory.MinBatch > c.Memory.MaxBatch {
		return fmt.Errorf("config: memory.min_batch > memory.max_batch")
	}
	if c.Rate.Jitter < 0 || c.Rate.Jitter > 1 {
		return fmt.Errorf("config: rate.jitter fuera de [0,1]")
	}
	for class, limit := range c.Rate.Limits {
		if limit <= 0 {
			return fmt.Errorf("config: rate.limits[%s] debe ser positivo", class)
		}
	}
	return nil
}
