// Package config carrega a configuração dos binários (arquivo opcional, .env
// e variáveis de ambiente) e monta a tabela de políticas de rate limit.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	UpstreamURL string `mapstructure:"upstream_url"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Redis    RedisConfig             `mapstructure:"redis"`
	Limiter  LimiterConfig           `mapstructure:"limiter"`
	Stats    StatsConfig             `mapstructure:"stats"`
	Policies map[string]PolicyConfig `mapstructure:"policies"`
}

type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	OpTimeout     time.Duration `mapstructure:"op_timeout"`
	MaxInFlight   int           `mapstructure:"max_in_flight"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

type LimiterConfig struct {
	SweepEvery time.Duration `mapstructure:"sweep_every"`
	BackoffCap time.Duration `mapstructure:"backoff_cap"`
	// IdentityHeader só quando um proxy de auth confiável injeta o header.
	IdentityHeader string `mapstructure:"identity_header"`
}

type StatsConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Prefix    string        `mapstructure:"prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
	Bucket    string        `mapstructure:"bucket"`
	TrackKeys bool          `mapstructure:"track_keys"`
}

// PolicyConfig é a forma "de arquivo" de uma política. MaxRequests é ignorado
// quando Unlimited.
type PolicyConfig struct {
	Window        time.Duration `mapstructure:"window"`
	MaxRequests   int           `mapstructure:"max_requests"`
	Unlimited     bool          `mapstructure:"unlimited"`
	BlockDuration time.Duration `mapstructure:"block_duration"`
	ExpBackoff    bool          `mapstructure:"exp_backoff"`
}

func (p PolicyConfig) Domain() domain.Config {
	q := domain.Bounded(p.MaxRequests)
	if p.Unlimited {
		q = domain.Unlimited()
	}
	return domain.Config{Window: p.Window, Quota: q, BlockDuration: p.BlockDuration}
}

// DefaultPolicies é a tabela registrada no startup.
func DefaultPolicies() map[string]PolicyConfig {
	return map[string]PolicyConfig{
		"auth": {
			Window:        15 * time.Minute,
			MaxRequests:   5,
			BlockDuration: 15 * time.Minute,
			ExpBackoff:    true,
		},
		"general":           {Window: time.Minute, MaxRequests: 100},
		"user-free":         {Window: time.Minute, MaxRequests: 60},
		"user-trial":        {Window: time.Minute, MaxRequests: 100},
		"user-premium":      {Window: time.Minute, MaxRequests: 300},
		"user-premium_plus": {Window: time.Minute, Unlimited: true},
	}
}

// Load lê (em ordem de precedência crescente) defaults, arquivo, .env e
// ambiente. path vazio procura config.yaml em . e ./configs sem exigir.
//
// Variáveis de ambiente seguem a chave com "." e "-" trocados por "_":
// redis.addr -> REDIS_ADDR, policies.user-free.max_requests ->
// POLICIES_USER_FREE_MAX_REQUESTS.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("upstream_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "ratelimit")
	v.SetDefault("redis.op_timeout", 50*time.Millisecond)
	v.SetDefault("redis.max_in_flight", 64)
	v.SetDefault("redis.probe_interval", 5*time.Second)

	v.SetDefault("limiter.sweep_every", time.Minute)
	v.SetDefault("limiter.backoff_cap", time.Hour)
	v.SetDefault("limiter.identity_header", "")

	v.SetDefault("stats.enabled", false)
	v.SetDefault("stats.prefix", "ratelimit:stats")
	v.SetDefault("stats.ttl", 24*time.Hour)
	v.SetDefault("stats.bucket", "minute")
	v.SetDefault("stats.track_keys", false)

	// cada campo vira uma chave conhecida, assim o ambiente consegue sobrescrever
	for name, p := range DefaultPolicies() {
		prefix := "policies." + name + "."
		v.SetDefault(prefix+"window", p.Window)
		v.SetDefault(prefix+"max_requests", p.MaxRequests)
		v.SetDefault(prefix+"unlimited", p.Unlimited)
		v.SetDefault(prefix+"block_duration", p.BlockDuration)
		v.SetDefault(prefix+"exp_backoff", p.ExpBackoff)
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("LISTEN_ADDR is required")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("REDIS_ADDR is required when REDIS_ENABLED=true")
	}
	if c.Stats.Enabled && !c.Redis.Enabled {
		return errors.New("STATS_ENABLED requires REDIS_ENABLED=true")
	}
	switch strings.ToLower(strings.TrimSpace(c.Stats.Bucket)) {
	case "minute", "hour", "none":
	default:
		return fmt.Errorf("STATS_BUCKET must be minute, hour or none, got %q", c.Stats.Bucket)
	}
	if c.Limiter.SweepEvery <= 0 {
		return errors.New("LIMITER_SWEEP_EVERY must be > 0")
	}
	if len(c.Policies) == 0 {
		return errors.New("at least one policy is required")
	}
	for _, name := range c.PolicyNames() {
		if err := c.Policies[name].Domain().Validate(); err != nil {
			return fmt.Errorf("policy %q: %w", name, err)
		}
	}
	return nil
}

// PolicyNames retorna os nomes em ordem alfabética (saída estável).
func (c *Config) PolicyNames() []string {
	names := make([]string, 0, len(c.Policies))
	for n := range c.Policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
