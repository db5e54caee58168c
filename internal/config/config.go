// Package config loads the authctl settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is everything authctl needs to build an authenticator and its
// supporting stores.
type Config struct {
	Addr        string
	LogLevel    slog.Level
	CORSOrigins []string

	PublishableKey    string
	SecretKey         string
	JWTKey            string
	APIURL            string
	Domain            string
	ProxyURL          string
	IsSatellite       bool
	SignInURL         string
	AuthorizedParties []string

	AllowHeaderOverrides   bool
	AllowUnsignedHandshake bool

	JWKSCacheTTL time.Duration
	RedisURL     string
	DatabaseURL  string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	var errs []error

	cfg := Config{
		Addr:           get("AUTHCTL_ADDR"),
		PublishableKey: get("CLERK_PUBLISHABLE_KEY"),
		SecretKey:      get("CLERK_SECRET_KEY"),
		JWTKey:         get("CLERK_JWT_KEY"),
		APIURL:         get("CLERK_API_URL"),
		Domain:         get("CLERK_DOMAIN"),
		ProxyURL:       get("CLERK_PROXY_URL"),
		SignInURL:      get("CLERK_SIGN_IN_URL"),
		RedisURL:       get("REDIS_URL"),
		DatabaseURL:    get("DATABASE_URL"),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	cfg.AuthorizedParties = splitList(get("CLERK_AUTHORIZED_PARTIES"))
	cfg.CORSOrigins = splitList(get("AUTHCTL_CORS_ORIGINS"))

	var err error
	if cfg.IsSatellite, err = parseBool(get("CLERK_IS_SATELLITE")); err != nil {
		errs = append(errs, fmt.Errorf("CLERK_IS_SATELLITE: %w", err))
	}
	if cfg.AllowHeaderOverrides, err = parseBool(get("AUTHCTL_ALLOW_HEADER_OVERRIDES")); err != nil {
		errs = append(errs, fmt.Errorf("AUTHCTL_ALLOW_HEADER_OVERRIDES: %w", err))
	}
	if cfg.AllowUnsignedHandshake, err = parseBool(get("AUTHCTL_ALLOW_UNSIGNED_HANDSHAKE")); err != nil {
		errs = append(errs, fmt.Errorf("AUTHCTL_ALLOW_UNSIGNED_HANDSHAKE: %w", err))
	}
	if raw := get("AUTHCTL_JWKS_CACHE_TTL"); raw != "" {
		if cfg.JWKSCacheTTL, err = time.ParseDuration(raw); err != nil {
			errs = append(errs, fmt.Errorf("AUTHCTL_JWKS_CACHE_TTL: %w", err))
		}
	}
	if raw := get("AUTHCTL_LOG_LEVEL"); raw != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			errs = append(errs, fmt.Errorf("AUTHCTL_LOG_LEVEL: %w", err))
		}
	}
	return cfg, errors.Join(errs...)
}

func parseBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
