package conf

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Duration is a config timeout. It decodes from "30s" style strings and
// prints back in the same form.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML keeps dumped settings loadable by Load.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

var durationType = reflect.TypeFor[Duration]()

// DurationDecodeHook lets viper decode strings, and integer nanoseconds from
// environment overrides, into Duration fields.
func DurationDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(func(_, to reflect.Type, data any) (any, error) {
			if to != durationType {
				return data, nil
			}
			switch v := data.(type) {
			case string:
				parsed, err := time.ParseDuration(v)
				if err != nil {
					return nil, fmt.Errorf("invalid duration %q: %w", v, err)
				}
				return Duration(parsed), nil
			case int:
				return Duration(v), nil
			default:
				return data, nil
			}
		}),
		mapstructure.StringToSliceHookFunc(","),
	)
}
