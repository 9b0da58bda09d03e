// Package config loads, merges and types the YAML configuration documents
// that describe pipelines, models, transforms, sources, sinks, connections,
// loggers and runners.
package config

import (
	"encoding/json"
	"fmt"
)

// Config is an alias to map[string]interface{} and helps us turn a fuzzy
// document into a concrete named struct.
type Config map[string]interface{}

// Construct will Marshal the Config and then Unmarshal it into a named
// struct.
func (c Config) Construct(conf interface{}) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, conf)
}

// GetString returns the value stored in the config under the given key, or
// an empty string if the key doesn't exist, or isn't a string value.
func (c Config) GetString(key string) string {
	i, ok := c[key]
	if !ok {
		return ""
	}
	s, ok := i.(string)
	if !ok {
		return ""
	}
	return s
}

// GetBool returns the boolean under key, or false.
func (c Config) GetBool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// cleanup rewrites the map[interface{}]interface{} values yaml.v2 produces
// into string-keyed maps so the config can round-trip through JSON.
func cleanup(v interface{}) interface{} {
	switch x := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = cleanup(val)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(x))
		for k, val := range x {
			m[k] = cleanup(val)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(x))
		for i, val := range x {
			s[i] = cleanup(val)
		}
		return s
	default:
		return v
	}
}

// AsConfig converts a cleaned-up subtree to a Config, or nil.
func AsConfig(v interface{}) Config {
	if m, ok := v.(map[string]interface{}); ok {
		return Config(m)
	}
	return nil
}
