package envconfig

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Print writes the parsed configuration through the logger, one field per
// line, with Secret values masked and unset fields marked.
func Print(conf interface{}, logger log.Logger) {
	v := reflect.ValueOf(conf)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	logger.Infof("%s:", t.Name())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Name
		if tag, ok := field.Tag.Lookup("env"); ok {
			name, _ = splitTag(tag)
		}
		logger.Printf("- %s: %s", name, displayString(v.Field(i)))
	}
}

func displayString(v reflect.Value) string {
	if secret, ok := v.Interface().(Secret); ok {
		if secret == "" {
			return "<unset>"
		}
		return secret.String()
	}
	s := valueString(v)
	if s == "" {
		return "<unset>"
	}
	return s
}

func valueString(v reflect.Value) string {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool:
		if !v.Bool() {
			return ""
		}
		return "true"
	case reflect.Int, reflect.Int64:
		if v.Int() == 0 {
			return ""
		}
		return fmt.Sprintf("%d", v.Int())
	case reflect.Slice:
		if v.Len() == 0 {
			return ""
		}
		parts := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			parts = append(parts, valueString(v.Index(i)))
		}
		return strings.Join(parts, "|")
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}
