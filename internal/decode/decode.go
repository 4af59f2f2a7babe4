// Package decode normalizes analysis responses into typed values.
//
// A response body is either a JSON document of the expected shape or text
// carrying one JSON document, usually wrapped in markdown code fences:
//
//	```json
//	{"risk_level": "High"}
//	```
//
// The text may arrive as the whole body, as a JSON string, or in the
// raw_response field of an envelope object.
package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/lotas/studzo/internal/types"
	"github.com/tidwall/gjson"
)

// envelopeField is the field the analysis backend uses to pass model text
// through untouched.
const envelopeField = "raw_response"

// fence matches an opening fence with an optional language tag, or a bare
// closing fence.
var fence = regexp.MustCompile("```[A-Za-z0-9_+.-]*")

var errEmpty = errors.New("empty payload")

// Decode converts a raw response body into T. It never returns a partially
// populated value: on failure the error is a *types.Error of kind
// MalformedResponse carrying the raw body.
func Decode[T any](raw []byte) (T, error) {
	var zero T

	text, structured := classify(raw)
	if structured {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return zero, malformed("response does not match expected shape", raw, err)
		}
		return v, nil
	}

	v, err := parseText[T](text)
	if err != nil {
		return zero, malformed("response text is not a JSON document", raw, err)
	}
	return v, nil
}

// Any decodes into a generic JSON value (map, slice, string, number, bool).
func Any(raw []byte) (any, error) {
	return Decode[any](raw)
}

// StripFences removes every fence marker from text and trims the result.
func StripFences(text string) string {
	return strings.TrimSpace(fence.ReplaceAllString(text, ""))
}

// classify reports whether raw is already structured data. When it is not,
// text is the payload that needs fence stripping.
func classify(raw []byte) (text string, structured bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) {
		return string(raw), false
	}

	doc := gjson.ParseBytes(trimmed)
	switch {
	case doc.Type == gjson.String:
		return doc.Str, false
	case doc.IsObject():
		if env := doc.Get(envelopeField); env.Type == gjson.String {
			return env.Str, false
		}
	case doc.Type == gjson.Null:
		return "", false
	}
	return "", true
}

func parseText[T any](text string) (T, error) {
	var v T

	body := StripFences(text)
	if body == "" {
		return v, errEmpty
	}

	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&v); err != nil {
		var zero T
		return zero, err
	}
	// Exactly one document; anything after it is ambiguous.
	if _, err := dec.Token(); err != io.EOF {
		var zero T
		return zero, errors.New("trailing data after JSON document")
	}
	return v, nil
}

func malformed(msg string, raw []byte, err error) *types.Error {
	return &types.Error{
		Kind: types.KindMalformedResponse,
		Msg:  msg,
		Raw:  string(raw),
		Err:  err,
	}
}
