// Package endpoint decides which object-storage service URL a client
// talks to. The decision is layered: an endpoint passed explicitly at
// client construction always wins, then the service-scoped environment
// override, then the generic one, then the provider default.
//
// The environment is read exactly once, when the Config snapshot is
// built. Resolve itself is a pure function of its input, so the
// precedence logic is testable without touching process environment.
package endpoint

import (
	"log/slog"
	"os"
)

// DefaultEndpoint is the provider default used when no override is
// configured.
const DefaultEndpoint = "https://s3.amazonaws.com"

// Environment variables consulted by FromEnv.
const (
	// ServiceEnvVar is the service-scoped override. It beats the
	// generic override.
	ServiceEnvVar = "AWS_ENDPOINT_URL_S3"
	// GenericEnvVar is the general-purpose override.
	GenericEnvVar = "AWS_ENDPOINT_URL"
)

// Source identifies which configuration tier supplied the resolved
// endpoint. It exists for diagnostics only; callers must not branch
// on it.
type Source string

const (
	SourceProgrammatic Source = "programmatic"
	SourceServiceEnv   Source = "service_env"
	SourceGenericEnv   Source = "generic_env"
	SourceDefault      Source = "default"
)

// Config is a snapshot of the three possible override sources. A nil
// field means "not set"; an empty string is a set-but-empty value and
// is treated as not set.
type Config struct {
	ProgrammaticEndpoint *string
	ServiceSpecificEnv   *string
	GenericEnv           *string
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	URL    string
	Source Source
}

// Overridden reports whether the resolved URL differs from the
// provider default. Clients that need custom endpoint plumbing (base
// URL, path-style addressing) branch on this, never on Source.
func (r Resolution) Overridden() bool {
	return r.URL != DefaultEndpoint
}

// FromEnv builds a Config snapshot. The programmatic endpoint, if any,
// is the one the caller passed at client construction time; the two
// environment overrides are read here, once, and never re-read.
func FromEnv(programmatic string) Config {
	cfg := Config{}
	if programmatic != "" {
		cfg.ProgrammaticEndpoint = &programmatic
	}
	if v, ok := os.LookupEnv(ServiceEnvVar); ok && v != "" {
		cfg.ServiceSpecificEnv = &v
	}
	if v, ok := os.LookupEnv(GenericEnvVar); ok && v != "" {
		cfg.GenericEnv = &v
	}
	return cfg
}

// Resolve picks the endpoint URL from cfg. Precedence, highest first:
// programmatic endpoint, service-specific environment override,
// generic environment override, provider default. Total function, no
// side effects beyond a debug log of the selected tier.
func Resolve(cfg Config) Resolution {
	res := Resolution{URL: DefaultEndpoint, Source: SourceDefault}
	switch {
	case isSet(cfg.ProgrammaticEndpoint):
		res = Resolution{URL: *cfg.ProgrammaticEndpoint, Source: SourceProgrammatic}
	case isSet(cfg.ServiceSpecificEnv):
		res = Resolution{URL: *cfg.ServiceSpecificEnv, Source: SourceServiceEnv}
	case isSet(cfg.GenericEnv):
		res = Resolution{URL: *cfg.GenericEnv, Source: SourceGenericEnv}
	}
	slog.Debug("resolved storage endpoint",
		"component", "endpoint",
		"url", res.URL,
		"source", string(res.Source),
	)
	return res
}

func isSet(s *string) bool {
	return s != nil && *s != ""
}
