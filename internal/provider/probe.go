package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rule — упорядоченный список путей для одного поля. Первый непустой путь выигрывает.
// Путь — ключи через точку, числовой сегмент индексирует массив: "media.all.0.url".
type Rule struct {
	Paths    []string
	Default  string
	Required bool
}

// Schema — набор правил по именам полей. Разные версии API называют поля по-разному,
// поэтому провайдер описывает все известные варианты декларативно.
type Schema map[string]Rule

// MissingFieldError — обязательное поле не найдено ни по одному пути.
type MissingFieldError struct {
	Field string
	Paths []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("required field %q not found (tried %s)", e.Field, strings.Join(e.Paths, ", "))
}

// Values — результат применения Schema.
type Values struct {
	raw map[string]any
}

// Apply вычисляет все поля схемы по документу doc.
func (s Schema) Apply(doc any) (Values, error) {
	v := Values{raw: make(map[string]any, len(s))}
	for name, rule := range s {
		val, ok := First(doc, rule.Paths...)
		if !ok {
			if rule.Required {
				return Values{}, &MissingFieldError{Field: name, Paths: rule.Paths}
			}
			if rule.Default != "" {
				v.raw[name] = rule.Default
			}
			continue
		}
		v.raw[name] = val
	}
	return v, nil
}

func (v Values) Has(name string) bool {
	_, ok := v.raw[name]
	return ok
}

func (v Values) Raw(name string) any { return v.raw[name] }

func (v Values) String(name string) string { return asString(v.raw[name]) }

func (v Values) Int(name string) (int64, bool) { return asInt(v.raw[name]) }

func (v Values) Float(name string) (float64, bool) { return asFloat(v.raw[name]) }

func (v Values) Time(name string) (time.Time, bool) { return asTime(v.raw[name]) }

func (v Values) List(name string) []any {
	l, _ := v.raw[name].([]any)
	return l
}

// First возвращает первое непустое значение по путям.
func First(doc any, paths ...string) (any, bool) {
	for _, p := range paths {
		if val, ok := Lookup(doc, p); ok && !isEmpty(val) {
			return val, true
		}
	}
	return nil, false
}

// FirstString — First со строковым результатом.
func FirstString(doc any, paths ...string) string {
	val, _ := First(doc, paths...)
	return asString(val)
}

// Lookup проходит по пути. Отсутствующий ключ или неверный тип — false.
func Lookup(doc any, path string) (any, bool) {
	cur := doc
	if path == "" {
		return cur, cur != nil
	}
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f, true
		}
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// asTime понимает unix-секунды, unix-миллисекунды, RFC3339 и формат Twitter.
func asTime(v any) (time.Time, bool) {
	if n, ok := asInt(v); ok && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	s := asString(v)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.RubyDate, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
