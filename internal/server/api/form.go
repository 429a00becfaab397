package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// formError reports a form field that failed to parse.
type formError struct {
	field string
}

func (e *formError) Error() string {
	return fmt.Sprintf("Invalid value for '%s'", e.field)
}

// form reads multipart fields with defaults. The first parse failure is kept
// in err and later reads become no-ops.
type form struct {
	r   *http.Request
	err error
}

func (f *form) value(name string) (string, bool) {
	if f.err != nil || f.r.MultipartForm == nil {
		return "", false
	}
	vals, ok := f.r.MultipartForm.Value[name]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return strings.TrimSpace(vals[0]), true
}

func (f *form) String(name, def string) string {
	v, ok := f.value(name)
	if !ok {
		return def
	}
	return v
}

func (f *form) Strings(name string) []string {
	if f.r.MultipartForm == nil {
		return nil
	}
	return f.r.MultipartForm.Value[name]
}

func (f *form) Int(name string, def int) int {
	v, ok := f.value(name)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		f.err = &formError{field: name}
		return def
	}
	return n
}

func (f *form) OptionalInt(name string) *int {
	v, ok := f.value(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		f.err = &formError{field: name}
		return nil
	}
	return &n
}

func (f *form) Float(name string, def float64) float64 {
	v, ok := f.value(name)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		f.err = &formError{field: name}
		return def
	}
	return n
}

func (f *form) Bool(name string, def bool) bool {
	v, ok := f.value(name)
	if !ok || v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	}
	f.err = &formError{field: name}
	return def
}
