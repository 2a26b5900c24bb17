// Package jsonscan pulls a JSON value out of free-form model output.
//
// Models tend to wrap their answer in prose or markdown fences. The scan is
// deliberately greedy: it takes everything from the first opening delimiter
// to the last closing one and then decodes that strictly.
package jsonscan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Delim is a pair of JSON container delimiters.
type Delim struct {
	Open  byte
	Close byte
}

var (
	Array  = Delim{Open: '[', Close: ']'}
	Object = Delim{Open: '{', Close: '}'}
)

// ErrNotFound is returned when text contains no delimited span.
var ErrNotFound = errors.New("no JSON value found")

// Span returns text from the first d.Open through the last d.Close.
func Span(text string, d Delim) (string, bool) {
	start := strings.IndexByte(text, d.Open)
	end := strings.LastIndexByte(text, d.Close)
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// Decode locates the span for d and unmarshals it into v.
func Decode(text string, d Delim, v any) error {
	span, ok := Span(text, d)
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal([]byte(span), v); err != nil {
		return fmt.Errorf("decode %c...%c span: %w", d.Open, d.Close, err)
	}
	return nil
}
