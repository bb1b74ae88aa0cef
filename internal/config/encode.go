// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"reflect"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// MarshalYAML renders c as a config file. Empty strings and lists are left
// out; numbers are always written, zero included.
func (c Config) MarshalYAML() (any, error) {
	out := make(map[string]any)
	v := reflect.ValueOf(c)
	t := v.Type()
	for i := range t.NumField() {
		key := t.Field(i).Tag.Get("koanf")
		if key == "" {
			continue
		}
		field := v.Field(i)
		switch field.Kind() {
		case reflect.String, reflect.Slice:
			if field.Len() == 0 {
				continue
			}
		}
		out[key] = field.Interface()
	}
	return out, nil
}

// Encode renders c as YAML accepted by Load.
func Encode(c Config) ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	return data, nil
}
