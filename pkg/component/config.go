package component

import (
	"fmt"
	"reflect"

	"github.com/cuemby/frontdoor/pkg/ferrors"
)

// DecodeStrict converts raw (a map produced by yaml.v3 unmarshalling into
// map[string]any) into a new value of the type pointed to by target,
// rejecting any key in raw that target's struct tags don't declare and
// treating every declared field as required unless it carries
// `config:"...,optional"`. This is frontdoor's answer to the Open
// Question on unknown configuration keys: strict rejection, with
// "missing" and "undefined" treated identically.
func DecodeStrict(raw map[string]any, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return ferrors.New(ferrors.KindConfig, "DecodeStrict: target must be a pointer to struct")
	}
	elem := rv.Elem()
	t := elem.Type()

	known := make(map[string]int, t.NumField())
	optional := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("config")
		name, opt := parseConfigTag(tag, field.Name)
		known[name] = i
		optional[name] = opt
	}

	for key := range raw {
		if _, ok := known[key]; !ok {
			return ferrors.New(ferrors.KindConfig, "unknown configuration key %q", key)
		}
	}

	for name, idx := range known {
		value, present := raw[name]
		if !present || value == nil {
			if optional[name] {
				continue
			}
			return ferrors.New(ferrors.KindConfig, "missing required configuration key %q", name)
		}
		field := elem.Field(idx)
		if err := assign(field, value); err != nil {
			return ferrors.Wrap(ferrors.KindConfig, err, "key %q", name)
		}
	}
	return nil
}

func parseConfigTag(tag, fieldName string) (name string, optional bool) {
	if tag == "" {
		return defaultKeyName(fieldName), false
	}
	name = tag
	for i, r := range tag {
		if r == ',' {
			name = tag[:i]
			if tag[i+1:] == "optional" {
				optional = true
			}
			break
		}
	}
	if name == "" {
		name = defaultKeyName(fieldName)
	}
	return name, optional
}

func defaultKeyName(fieldName string) string {
	if fieldName == "" {
		return fieldName
	}
	r := []rune(fieldName)
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] = r[0] - 'A' + 'a'
	}
	return string(r)
}

func assign(field reflect.Value, value any) error {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}
	if rv.Kind() == reflect.String && field.Kind() == reflect.String {
		field.Set(rv.Convert(field.Type()))
		return nil
	}
	if rv.Type().ConvertibleTo(field.Type()) && isNumericKind(rv.Kind()) && isNumericKind(field.Kind()) {
		field.Set(rv.Convert(field.Type()))
		return nil
	}
	if field.Kind() == reflect.Slice {
		rawSlice, ok := value.([]any)
		if !ok {
			return fmt.Errorf("expected list, got %T", value)
		}
		out := reflect.MakeSlice(field.Type(), len(rawSlice), len(rawSlice))
		for i, item := range rawSlice {
			if err := assign(out.Index(i), item); err != nil {
				return err
			}
		}
		field.Set(out)
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
