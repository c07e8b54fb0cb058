package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration read from text such as "100ms" or "15s".
type Duration time.Duration

// UnmarshalText parses a non-negative Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(v)
	return nil
}

// String formats the duration the way it is written in config files.
func (d Duration) String() string { return d.Duration().String() }

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// redacted replaces a set Secret in every rendered form.
const redacted = "[REDACTED]"

// Secret is a credential read from config. It prints and marshals as
// [REDACTED]; only Value exposes the content.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
