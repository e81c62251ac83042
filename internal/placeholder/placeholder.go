// Package placeholder implements the template token codec for manifest
// texts: extraction, typed validation and substitution of `{{ $name }}`
// placeholders.
package placeholder

import (
	"regexp"
	"sort"
	"strings"
)

// Pattern matches tokens like {{ $serverPort }} with optional inner whitespace.
var Pattern = regexp.MustCompile(`\{\{\s*\$(\w+)\s*\}\}`)

// Types is the fixed name -> expected type table for the manifest corpus.
// Names not listed default to "str".
var Types = map[string]string{
	"secretServerHost": "str",
	"egressLabel":      "str",
	"serverHostDB1":    "str",
	"serverHostDB1ip":  "str",
	"serverHostDB2":    "str",
	"serverHostDB2ip":  "str",
	"serverPort":       "int",
	"virtualPortDB1":   "int",
	"virtualPortDB2":   "int",
	"pathToCACert":     "str",
	"pathToCert":       "str",
	"pathToKey":        "str",
}

// TypeOf returns the declared type for a placeholder name, "str" when unknown.
func TypeOf(name string) string {
	if t, ok := Types[name]; ok {
		return t
	}
	return "str"
}

// Extract returns the unique placeholder names found in text, sorted
// lexicographically. The sort order determines the fill sequence.
func Extract(text string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range Pattern.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)
var urlPrefix = regexp.MustCompile(`^https?://`)

// Validate reports whether value is acceptable for the expected type.
// str slots expect a single token (hostname, label, path), so phrases
// with internal whitespace and purely numeric strings are rejected.
func Validate(value, expectedType string) bool {
	value = strings.TrimSpace(value)

	switch expectedType {
	case "int":
		return digitsOnly.MatchString(value)
	case "url":
		return urlPrefix.MatchString(value)
	case "str":
		if value == "" {
			return false
		}
		if len(strings.Fields(value)) > 1 {
			return false
		}
		if digitsOnly.MatchString(value) {
			return false
		}
		return true
	default:
		return true
	}
}

// Fill replaces every occurrence of each key's token with the literal
// value. Tokens with no matching key are left untouched; callers must
// ensure completeness before treating the output as final.
func Fill(text string, values map[string]string) string {
	for key, value := range values {
		pattern := regexp.MustCompile(`\{\{\s*\$` + regexp.QuoteMeta(key) + `\s*\}\}`)
		text = pattern.ReplaceAllLiteralString(text, value)
	}
	return text
}

// FormatList renders placeholder names for display.
func FormatList(names []string) string {
	if len(names) == 0 {
		return "The matched manifests contain no parameters to fill in"
	}
	var b strings.Builder
	b.WriteString("Parameters to fill in:")
	for _, name := range names {
		b.WriteString("\n- $" + name)
	}
	return b.String()
}
