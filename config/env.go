package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "VISATRACK_"

// ExpandEnvWithDefaults expands $VAR, ${VAR} and ${VAR:-default} in s.
// The default applies when VAR is unset or empty. lookup is usually os.LookupEnv.
func ExpandEnvWithDefaults(s string, lookup func(string) (string, bool)) string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return os.Expand(s, func(ref string) string {
		name, def, hasDefault := strings.Cut(ref, ":-")
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}

// applyEnv overlays VISATRACK_* variables. PORT is honoured as a fallback for
// VISATRACK_PORT so the usual hosting convention works.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		return v, ok && v != ""
	}

	if v, ok := get("PORT"); ok {
		if err := setInt(&c.Server.Port, EnvPrefix+"PORT", v); err != nil {
			return err
		}
	} else if v, ok := lookup("PORT"); ok && v != "" {
		if err := setInt(&c.Server.Port, "PORT", v); err != nil {
			return err
		}
	}
	if v, ok := get("CLIENT_DIR"); ok {
		c.Server.ClientDir = v
	}
	if v, ok := get("DATA_DIR"); ok {
		c.Data.Dir = v
	}
	if v, ok := get("UPLOADS_DIR"); ok {
		c.Data.UploadsDir = v
	}
	if v, ok := get("WATCH"); ok {
		if err := setBool(&c.Data.Watch, EnvPrefix+"WATCH", v); err != nil {
			return err
		}
	}
	if v, ok := get("REQUIRE_ADMIN"); ok {
		if err := setBool(&c.Auth.RequireAdmin, EnvPrefix+"REQUIRE_ADMIN", v); err != nil {
			return err
		}
	}
	if v, ok := get("TOKEN_SECRET"); ok {
		c.Auth.TokenSecret = v
	}
	if v, ok := get("TOKEN_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTOKEN_TTL: %w", EnvPrefix, err)
		}
		c.Auth.TokenTTL = d
	}
	return nil
}

func setInt(dst *int, name, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, name, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = b
	return nil
}
