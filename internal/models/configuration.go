package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrConfigurationNotObject        = errors.New("configurations must be an object")
	ErrUnsupportedConfigurationValue = errors.New("configuration values must be strings, numbers or booleans")
)

type Configuration struct {
	ID        int64     `json:"id"`
	DeviceID  int64     `json:"device_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfigurationEntry is a single key/value pair submitted by a device.
type ConfigurationEntry struct {
	Key   string
	Value string
}

// ConfigurationSet is an ordered batch of entries. It decodes from a JSON
// object and keeps the order in which keys appear in the document. A key
// repeated in the document keeps its first position and its last value.
type ConfigurationSet []ConfigurationEntry

func (s ConfigurationSet) Keys() []string {
	keys := make([]string, len(s))
	for i, e := range s {
		keys[i] = e.Key
	}
	return keys
}

func (s *ConfigurationSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationNotObject, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrConfigurationNotObject
	}

	set := ConfigurationSet{}
	positions := make(map[string]int)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read configuration key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return ErrConfigurationNotObject
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("failed to read value for %q: %w", key, err)
		}
		value, err := scalarText(raw)
		if err != nil {
			return fmt.Errorf("%w: key %q", err, key)
		}

		if i, seen := positions[key]; seen {
			set[i].Value = value
			continue
		}
		positions[key] = len(set)
		set = append(set, ConfigurationEntry{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to read end of configurations: %w", err)
	}

	*s = set
	return nil
}

// MarshalJSON writes the set back as an object in entry order.
func (s ConfigurationSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// scalarText turns a JSON scalar into the text that gets stored. Numbers
// and booleans keep their literal form.
func scalarText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrUnsupportedConfigurationValue
	}

	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case c == 't' || c == 'f':
		return string(raw), nil
	case c == '-' || (c >= '0' && c <= '9'):
		return string(raw), nil
	default:
		return "", ErrUnsupportedConfigurationValue
	}
}
