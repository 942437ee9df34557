// Package json extracts JSON objects from language-model output.
//
// Models asked for JSON still wrap it in markdown fences or prose. Extraction
// tries the whole response first, then the first balanced {...} object.
package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when no decodable JSON object is found.
var ErrNoJSON = errors.New("no valid JSON object in response")

const previewLen = 100

// Extract returns the JSON object portion of response.
func Extract(response string) (string, error) {
	response = stripMarkdownCodeBlocks(response)

	if isObject(response) {
		return response, nil
	}

	for start := strings.IndexByte(response, '{'); start != -1; {
		end := matchBrace(response, start)
		if end == -1 {
			break
		}
		candidate := response[start : end+1]
		if isObject(candidate) {
			return candidate, nil
		}
		next := strings.IndexByte(response[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}

	return "", fmt.Errorf("%w: %q", ErrNoJSON, preview(response))
}

// Decode extracts the JSON object from response and unmarshals it into T.
// Field matching follows encoding/json, so keys match struct tags case-insensitively.
func Decode[T any](response string) (T, error) {
	var result T
	err := DecodeInto(response, &result)
	return result, err
}

// DecodeInto is the non-generic form of Decode.
func DecodeInto(response string, result any) error {
	raw, err := Extract(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), result); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// Lookup returns the value stored under key, matching keys case-insensitively.
// An exact match wins over a case-folded one.
func Lookup(obj map[string]any, key string) (any, bool) {
	if v, ok := obj[key]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func isObject(s string) bool {
	var obj map[string]any
	return json.Unmarshal([]byte(s), &obj) == nil
}

// matchBrace returns the index of the '}' closing the '{' at open, skipping
// braces inside string literals, or -1 when unbalanced.
func matchBrace(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// stripMarkdownCodeBlocks removes ```json ... ``` or ``` ... ``` fences.
func stripMarkdownCodeBlocks(response string) string {
	trimmed := strings.TrimSpace(response)

	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```json"))
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	}

	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))
	}

	return trimmed
}

func preview(s string) string {
	if len(s) > previewLen {
		return s[:previewLen] + "..."
	}
	return s
}
