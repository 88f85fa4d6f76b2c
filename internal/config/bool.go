package config

import "strings"

// ParseBool treats only a case-insensitive "true" as true.
func ParseBool(s string) bool {
	return strings.EqualFold(s, "true")
}

// ParseBoolLenient reproduces the legacy rule: the lowercased input is true
// when it is a substring of "true". So "t", "ru", "rue" and "" are true, and
// "eurt" is false because the order matters.
func ParseBoolLenient(s string) bool {
	return strings.Contains("true", strings.ToLower(s))
}
