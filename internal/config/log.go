package config

import (
	"log/slog"
	"reflect"
	"strings"
)

// LogValue lists the options under their flag names with optional values
// dereferenced.
func (c Config) LogValue() slog.Value {
	var v = reflect.ValueOf(c)
	var t = v.Type()
	var attrs = make([]slog.Attr, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		var name, _, _ = strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		var field = v.Field(i)
		if field.Kind() == reflect.Pointer {
			if field.IsNil() {
				attrs = append(attrs, slog.String(name, "unset"))
				continue
			}
			field = field.Elem()
		}
		attrs = append(attrs, slog.Any(name, field.Interface()))
	}
	return slog.GroupValue(attrs...)
}
