package backup

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"wpback/internal/logger"
)

// EnsureDirectoryExist creates dirPath and any missing parents.
func EnsureDirectoryExist(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory %q: %w", dirPath, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON to path. If v does not serialize
// (NaN values, odd types smuggled into a record), it retries once to
// <path>.simplified.json with non-ASCII escaped and unserializable values
// coerced to text. Only a second failure is an error; the caller ends up
// with at least one artifact in the common case.
func WriteJSON(path string, v any) error {
	if err := EnsureDirectoryExist(filepath.Dir(path)); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err == nil {
		return os.WriteFile(path, data, 0o644)
	}

	logger.Global().Warn("structured JSON write failed, retrying simplified",
		"path", path, "error", err.Error())

	simple, err2 := json.Marshal(coerce(v))
	if err2 != nil {
		return fmt.Errorf("simplified JSON write %q: %w", path, err2)
	}
	return os.WriteFile(path+".simplified.json", escapeNonASCII(simple), 0o644)
}

// coerce rewrites v into something json.Marshal always accepts: maps and
// slices are walked, non-finite floats and unknown types become strings.
func coerce(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[fmt.Sprint(iter.Key().Interface())] = coerce(iter.Value().Interface())
		}
		return m
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = coerce(rv.Index(i).Interface())
		}
		return out
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return f
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return coerce(rv.Elem().Interface())
	default:
		return fmt.Sprint(v)
	}
}

// escapeNonASCII rewrites every rune above 0x7f in a marshaled JSON
// document as a \uXXXX escape (surrogate pairs above the BMP).
func escapeNonASCII(data []byte) []byte {
	var b strings.Builder
	b.Grow(len(data))
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r < utf8.RuneSelf {
			b.WriteByte(data[i])
		} else if r1, r2 := utf16.EncodeRune(r); r1 != 0xFFFD {
			fmt.Fprintf(&b, `\u%04x\u%04x`, r1, r2)
		} else {
			fmt.Fprintf(&b, `\u%04x`, r)
		}
		i += size
	}
	return []byte(b.String())
}
