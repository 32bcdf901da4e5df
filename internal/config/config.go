package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	EnvLocal = "local"

	defaultHTTPAddr      = ":8080"
	defaultSessionTTL    = 12 * time.Hour
	defaultInvitationTTL = 7 * 24 * time.Hour
	defaultBcryptCost    = 12
	minBcryptCost        = 10
	defaultAdminEmail    = "admin@opsconsole.local"
	defaultRateBurst     = 20
	defaultRatePerSec    = 10
	defaultMaxBodyBytes  = 1 << 20

	ProviderAWS     = "aws"
	ProviderCatalog = "catalog"
)

var defaultRegions = []string{"us-east-1", "us-west-2"}

// ErrMissingPepper is returned when a deployed environment boots without a password pepper.
var ErrMissingPepper = errors.New("config: OPSCONSOLE_PEPPER is required outside local environments")

// Config is the fully resolved process configuration.
type Config struct {
	Env      string
	HTTPAddr string
	GRPCAddr string

	DatabaseDSN string

	Pepper        string
	SessionSecret string
	SessionTTL    time.Duration
	InvitationTTL time.Duration
	BcryptCost    int
	CookieSecure  bool

	AdminEmail    string
	AdminPassword string

	AWSRegions       []string
	ResourceProvider string

	LogLevel string
	LogFile  string

	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64

	// TrustedProxies lists peers whose X-Forwarded-For header is honored.
	TrustedProxies []netip.Prefix
}

// IsLocal reports whether the process runs on a developer machine.
func (c Config) IsLocal() bool {
	return c.Env == EnvLocal
}

// Load reads an optional .env file and the OPSCONSOLE_* environment, then validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Config{
		Env:           strings.ToLower(get("OPSCONSOLE_ENV")),
		HTTPAddr:      get("OPSCONSOLE_HTTP_ADDR"),
		GRPCAddr:      get("OPSCONSOLE_GRPC_ADDR"),
		DatabaseDSN:   get("OPSCONSOLE_PG_DSN"),
		Pepper:        get("OPSCONSOLE_PEPPER"),
		SessionSecret: get("OPSCONSOLE_SESSION_SECRET"),
		AdminEmail:    get("OPSCONSOLE_ADMIN_EMAIL"),
		AdminPassword: get("OPSCONSOLE_ADMIN_PASSWORD"),
		LogLevel:      get("OPSCONSOLE_LOG_LEVEL"),
		LogFile:       get("OPSCONSOLE_LOG_FILE"),
	}
	if cfg.Env == "" {
		cfg.Env = EnvLocal
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.AdminEmail == "" {
		cfg.AdminEmail = defaultAdminEmail
	}

	var err error
	if cfg.SessionTTL, err = durationOr(get("OPSCONSOLE_SESSION_TTL"), defaultSessionTTL); err != nil {
		return Config{}, fmt.Errorf("config: OPSCONSOLE_SESSION_TTL: %w", err)
	}
	if cfg.InvitationTTL, err = durationOr(get("OPSCONSOLE_INVITATION_TTL"), defaultInvitationTTL); err != nil {
		return Config{}, fmt.Errorf("config: OPSCONSOLE_INVITATION_TTL: %w", err)
	}
	if cfg.BcryptCost, err = intOr(get("OPSCONSOLE_BCRYPT_COST"), defaultBcryptCost); err != nil {
		return Config{}, fmt.Errorf("config: OPSCONSOLE_BCRYPT_COST: %w", err)
	}
	if cfg.RateBurst, err = intOr(get("OPSCONSOLE_RATE_BURST"), defaultRateBurst); err != nil {
		return Config{}, fmt.Errorf("config: OPSCONSOLE_RATE_BURST: %w", err)
	}
	if cfg.RatePerSec, err = intOr(get("OPSCONSOLE_RATE_PER_SEC"), defaultRatePerSec); err != nil {
		return Config{}, fmt.Errorf("config: OPSCONSOLE_RATE_PER_SEC: %w", err)
	}
	cfg.MaxBodyBytes = defaultMaxBodyBytes

	cfg.CookieSecure = !cfg.IsLocal()
	if raw := get("OPSCONSOLE_COOKIE_SECURE"); raw != "" {
		if cfg.CookieSecure, err = strconv.ParseBool(raw); err != nil {
			return Config{}, fmt.Errorf("config: OPSCONSOLE_COOKIE_SECURE: %w", err)
		}
	}

	cfg.AWSRegions = defaultRegions
	if raw := get("OPSCONSOLE_AWS_REGIONS"); raw != "" {
		cfg.AWSRegions = splitList(raw)
	}
	if cfg.TrustedProxies, err = parsePrefixes(get("OPSCONSOLE_TRUSTED_PROXIES")); err != nil {
		return Config{}, fmt.Errorf("config: OPSCONSOLE_TRUSTED_PROXIES: %w", err)
	}
	cfg.ResourceProvider = strings.ToLower(get("OPSCONSOLE_RESOURCE_PROVIDER"))
	if cfg.ResourceProvider == "" {
		cfg.ResourceProvider = ProviderAWS
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the invariants the server refuses to boot without.
func (c Config) Validate() error {
	if !c.IsLocal() {
		if c.Pepper == "" {
			return ErrMissingPepper
		}
		if c.SessionSecret == "" {
			return errors.New("config: OPSCONSOLE_SESSION_SECRET is required outside local environments")
		}
		if c.DatabaseDSN == "" {
			return errors.New("config: OPSCONSOLE_PG_DSN is required outside local environments")
		}
	}
	if err := validator.New().Var(c.AdminEmail, "required,email"); err != nil {
		return fmt.Errorf("config: OPSCONSOLE_ADMIN_EMAIL %q is not a valid email address", c.AdminEmail)
	}
	if c.BcryptCost < minBcryptCost {
		return fmt.Errorf("config: OPSCONSOLE_BCRYPT_COST must be at least %d", minBcryptCost)
	}
	if c.SessionTTL <= 0 || c.InvitationTTL <= 0 {
		return errors.New("config: ttl values must be positive")
	}
	if len(c.AWSRegions) != 2 {
		return fmt.Errorf("config: exactly two AWS regions are supported, got %d", len(c.AWSRegions))
	}
	if c.ResourceProvider != ProviderAWS && c.ResourceProvider != ProviderCatalog {
		return fmt.Errorf("config: OPSCONSOLE_RESOURCE_PROVIDER must be %q or %q", ProviderAWS, ProviderCatalog)
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return errors.New("config: rate limit values must be positive")
	}
	return nil
}

func durationOr(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}

func intOr(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// parsePrefixes accepts a comma-separated list of CIDRs or bare addresses.
func parsePrefixes(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range splitList(raw) {
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
