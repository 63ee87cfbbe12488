// Package envconfig populates configuration structs from environment
// variables, driven by `env` struct tags. A tag names the variable and may
// carry constraints:
//
//	type Config struct {
//		APIBaseURL  string  `env:"ARCHIVE_API_URL,required"`
//		AccessToken Secret  `env:"ARCHIVE_ACCESS_TOKEN,required"`
//		Verbose     bool    `env:"VERBOSE"`
//		LogFormat   string  `env:"LOG_FORMAT,opt[raw,json]"`
//	}
package envconfig

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
)

// Secret is a string whose value must not appear in logs. Use it for tokens
// and credentials; Print and the String method render it masked.
type Secret string

const secretMask = "*****"

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secretMask
}

// Parser populates structs from an environment source.
type Parser interface {
	Parse(conf interface{}) error
}

type parser struct {
	envRepo env.Repository
}

// NewParser ...
func NewParser(envRepo env.Repository) Parser {
	return parser{envRepo: envRepo}
}

// Parse fills conf from the process environment. conf must be a pointer to a
// struct; fields without an `env` tag are left untouched.
func Parse(conf interface{}) error {
	return NewParser(env.NewRepository()).Parse(conf)
}

// Parse ...
func (p parser) Parse(conf interface{}) error {
	v := reflect.ValueOf(conf)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("expected a pointer to a struct, got %T", conf)
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("expected a pointer to a struct, got %T", conf)
	}

	t := v.Type()
	var errs []string
	for i := 0; i < t.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		key, constraint := splitTag(tag)
		value := p.envRepo.Get(key)

		if err := checkConstraint(constraint, key, value); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if value == "" {
			continue
		}
		if err := setField(v.Field(i), value); err != nil {
			errs = append(errs, fmt.Sprintf("set %s from %s: %s", t.Field(i).Name, key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func splitTag(tag string) (key, constraint string) {
	parts := strings.SplitN(tag, ",", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func checkConstraint(constraint, key, value string) error {
	switch {
	case constraint == "":
		return nil
	case constraint == "required":
		if value == "" {
			return fmt.Errorf("%s is required but not set", key)
		}
		return nil
	case strings.HasPrefix(constraint, "opt[") && strings.HasSuffix(constraint, "]"):
		if value == "" {
			return nil
		}
		options := strings.Split(constraint[len("opt["):len(constraint)-1], ",")
		for i := range options {
			if value == strings.TrimSpace(options[i]) {
				return nil
			}
		}
		return fmt.Errorf("%s: %q is not in the allowed set [%s]", key, value, constraint[len("opt["):len(constraint)-1])
	default:
		return fmt.Errorf("%s: unknown constraint %q", key, constraint)
	}
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse bool: %w", err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("parse int: %w", err)
		}
		field.SetInt(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		field.Set(reflect.ValueOf(strings.Split(value, "|")))
	case reflect.Ptr:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported pointer type %s", field.Type())
		}
		field.Set(reflect.ValueOf(&value))
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
