// Package llmjson extracts structured JSON payloads from free-form model
// output. Responses are nominally JSON but are frequently wrapped in
// commentary or markdown code fences; every stage worker goes through this
// package rather than re-implementing the cleanup.
package llmjson

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fenceRe matches a triple-backtick code fence with an optional "json" tag.
var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// MalformedOutputError indicates model output that could not be parsed into
// the expected shape. Raw carries the full response text for diagnostics.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("llmjson: malformed model output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() error {
	return e.Err
}

// Extract returns the JSON candidate inside raw: the interior of the first
// code fence if one exists, otherwise the trimmed text as-is.
func Extract(raw string) string {
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

// Unmarshal parses the JSON payload embedded in raw into v. A payload that
// fails to parse yields a *MalformedOutputError carrying the raw text.
func Unmarshal(raw string, v any) error {
	candidate := Extract(raw)
	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return &MalformedOutputError{Raw: raw, Err: err}
	}
	return nil
}

// Missing returns a *MalformedOutputError for a payload that parsed but is
// missing a required key. Callers use this so semantically incomplete
// responses surface through the same error class as unparseable ones.
func Missing(raw, key string) error {
	return &MalformedOutputError{Raw: raw, Err: fmt.Errorf("missing required key %q", key)}
}
