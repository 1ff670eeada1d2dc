// Package timex contains time helpers shared by configuration and storage.
package timex

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Duration wraps time.Duration so JSON config files can use either
// Go duration strings ("10s", "1m30s") or integer nanoseconds.
type Duration struct {
	time.Duration
}

// MarshalJSON writes the duration in its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return errors.New("invalid duration")
	}
}

// StorageLayout is the fixed-width UTC layout used for timestamps kept as
// text. Equal width keeps lexical and chronological order identical.
const StorageLayout = "2006-01-02T15:04:05.000000000Z"

// FormatStorage renders t in StorageLayout.
func FormatStorage(t time.Time) string {
	return t.UTC().Format(StorageLayout)
}

// ParseStorage parses a value written by FormatStorage.
func ParseStorage(s string) (time.Time, error) {
	t, err := time.ParseInLocation(StorageLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
