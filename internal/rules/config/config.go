package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/rr-rulecheck/internal/rules/domain"
)

// AppConfig holds configuration values from defaults, an optional YAML file
// and RULECHECK_ environment variables, in that order of precedence.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// DomesticServers and ForeignServers are resolvers in ip:port format,
	// reached through the domestic and foreign network paths.
	DomesticServers []string `koanf:"domestic_servers" validate:"dive,ip_port"`
	ForeignServers  []string `koanf:"foreign_servers" validate:"dive,ip_port"`

	// Endpoints replaces the server lists with per-endpoint settings (file only).
	Endpoints []EndpointConfig `koanf:"endpoints" validate:"dive"`

	// Timeout is the per-attempt query timeout; Retries the extra attempts after a timeout.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
	Retries int           `koanf:"retries" validate:"gte=0,lte=10"`

	Workers     int `koanf:"workers" validate:"gte=1,lte=4096"`
	FileWorkers int `koanf:"file_workers" validate:"gte=1,lte=256"`

	// CacheSize is the initial verdict cache capacity. The cache grows past it
	// rather than evicting, so each domain is resolved at most once per run.
	CacheSize uint `koanf:"cache_size" validate:"required,gte=1"`

	// IncludeExceptions unions the exception rules of the input files into the whitelist.
	IncludeExceptions bool `koanf:"include_exceptions"`

	Whitelist   []string `koanf:"whitelist"`
	ReportFile  string   `koanf:"report_file"`
	HistoryDB   string   `koanf:"history_db"`
	MetricsFile string   `koanf:"metrics_file"`
}

// EndpointConfig configures one resolver. Zero Timeout and nil Retries fall
// back to the global values.
type EndpointConfig struct {
	Name    string        `koanf:"name"`
	Address string        `koanf:"address" validate:"required,ip_port"`
	Group   string        `koanf:"group" validate:"omitempty,oneof=domestic foreign"`
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`
	Retries *int          `koanf:"retries" validate:"omitempty,gte=0,lte=10"`
}

// DEFAULT_APP_CONFIG defines the default settings: two domestic and two
// foreign public resolvers, a two second timeout and one retry.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:               "prod",
	LogLevel:          "info",
	DomesticServers:   []string{"223.5.5.5:53", "119.29.29.29:53"},
	ForeignServers:    []string{"8.8.8.8:53", "1.1.1.1:53"},
	Timeout:           2 * time.Second,
	Retries:           1,
	Workers:           64,
	FileWorkers:       2,
	CacheSize:         1_000_000,
	IncludeExceptions: true,
	HistoryDB:         "",
	MetricsFile:       "",
	ReportFile:        "",
}

var errNoEndpoints = errors.New("no resolver endpoints configured")

// validIPPort validates whether the provided field value is a valid IP address and port combination.
// It expects the value to be in the format "IP:Port".
func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	ip, port, err := net.SplitHostPort(addr)
	if err != nil || ip == "" || port == "" {
		return false
	}
	if net.ParseIP(ip) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// envLoader loads environment variables with the prefix "RULECHECK_".
// Values containing spaces or commas become lists. It can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "RULECHECK_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "RULECHECK_"))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader loads a YAML config file. An empty path is a no-op.
var fileLoader = func(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}
	return k.Load(file.Provider(path), yaml.Parser())
}

// registerValidation registers the custom "ip_port" rule with the provided validator.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("ip_port", validIPPort)
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment, then validates it. Every failure wraps domain.ErrConfiguration.
func Load(path string) (*AppConfig, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	return cfg, nil
}

func load(path string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := fileLoader(k, path); err != nil {
		return nil, fmt.Errorf("error loading config file %s: %w", path, err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and that at least one endpoint is configured.
// Call it again after applying command-line overrides.
func (c *AppConfig) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if len(c.ResolverEndpoints()) == 0 {
		return errNoEndpoints
	}
	return nil
}

// ResolverEndpoints returns the configured endpoints. Explicit endpoints win
// over the domestic and foreign server lists.
func (c *AppConfig) ResolverEndpoints() []domain.ResolverEndpoint {
	if len(c.Endpoints) > 0 {
		out := make([]domain.ResolverEndpoint, 0, len(c.Endpoints))
		for _, e := range c.Endpoints {
			ep := domain.ResolverEndpoint{
				Name:    e.Name,
				Address: e.Address,
				Group:   domain.EndpointGroup(e.Group),
				Timeout: c.Timeout,
				Retries: c.Retries,
			}
			if ep.Group == "" {
				ep.Group = domain.GroupForeign
			}
			if e.Timeout > 0 {
				ep.Timeout = e.Timeout
			}
			if e.Retries != nil {
				ep.Retries = *e.Retries
			}
			out = append(out, ep)
		}
		return out
	}

	out := make([]domain.ResolverEndpoint, 0, len(c.DomesticServers)+len(c.ForeignServers))
	for _, addr := range c.DomesticServers {
		out = append(out, domain.ResolverEndpoint{Address: addr, Group: domain.GroupDomestic, Timeout: c.Timeout, Retries: c.Retries})
	}
	for _, addr := range c.ForeignServers {
		out = append(out, domain.ResolverEndpoint{Address: addr, Group: domain.GroupForeign, Timeout: c.Timeout, Retries: c.Retries})
	}
	return out
}
