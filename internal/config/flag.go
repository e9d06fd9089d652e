package config

import "strings"

var (
	truthyValues = map[string]bool{"true": true, "1": true, "yes": true, "on": true, "enabled": true}
	falsyValues  = map[string]bool{"false": true, "0": true, "no": true, "off": true, "disabled": true}
)

// parseFlag reads a boolean entry of an external property file
// (case-insensitive):
//   - truthy: true, 1, yes, on, enabled
//   - falsy: false, 0, no, off, disabled
//
// Empty and unrecognized values yield def.
func parseFlag(value string, def bool) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	switch {
	case truthyValues[value]:
		return true
	case falsyValues[value]:
		return false
	default:
		return def
	}
}
