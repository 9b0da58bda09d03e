package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/capport/capport/errors"
)

var varPattern = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*`)

// Resolve substitutes $var references in a configuration subtree against a
// stage's argument map. A string that is exactly one reference substitutes
// the bound subtree wholesale (lists and maps thread through); a reference
// embedded in a longer string substitutes textually. An unresolved $var is
// a load-time error.
func Resolve(v interface{}, args map[string]interface{}) (interface{}, error) {
	switch x := v.(type) {
	case string:
		return resolveString(x, args)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			rk, err := resolveString(k, args)
			if err != nil {
				return nil, err
			}
			key, ok := rk.(string)
			if !ok {
				key = fmt.Sprint(rk)
			}
			rv, err := Resolve(val, args)
			if err != nil {
				return nil, err
			}
			out[key] = rv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			rv, err := Resolve(val, args)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, args map[string]interface{}) (interface{}, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	// a bare reference substitutes the bound value with its structure intact
	if varPattern.MatchString(s) && varPattern.FindString(s) == s {
		name := s[1:]
		bound, ok := args[name]
		if !ok {
			return nil, errors.New(errors.ConfigValidate, "", "unresolved $%s, stage args have %v", name, argNames(args))
		}
		return bound, nil
	}
	var firstErr error
	out := varPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[1:]
		bound, ok := args[name]
		if !ok {
			if firstErr == nil {
				firstErr = errors.New(errors.ConfigValidate, "", "unresolved $%s in %q, stage args have %v", name, s, argNames(args))
			}
			return ref
		}
		return fmt.Sprint(bound)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// ResolveConfig resolves every $var in a Config subtree.
func ResolveConfig(c Config, args map[string]interface{}) (Config, error) {
	out, err := Resolve(map[string]interface{}(c), args)
	if err != nil {
		return nil, err
	}
	return AsConfig(out), nil
}

func argNames(args map[string]interface{}) []string {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
