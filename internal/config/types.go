package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Duration is a time.Duration that decodes from text. Bare integers are
// read as seconds so SOLVD_* environment overrides can omit the unit.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	raw := string(text)
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		secs, convErr := strconv.ParseInt(raw, 10, 64)
		if convErr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		parsed = time.Duration(secs) * time.Second
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret is a forge token or similar credential. Formatting, JSON and text
// encoding all print a placeholder; only Value exposes the content.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) placeholder() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) String() string   { return s.placeholder() }
func (s Secret) GoString() string { return "config.Secret(" + strconv.Quote(s.placeholder()) + ")" }

// Value returns the raw credential. Callers must not log it.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.placeholder()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.placeholder()), nil }

// UnmarshalText stores text verbatim so tokens can be loaded from YAML or env.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
