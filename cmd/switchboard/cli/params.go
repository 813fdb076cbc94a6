// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/lib/money"
)

// FlagBinder is implemented by params fields that register their own
// flags. [BindFlags] calls AddFlags on them instead of reading tags.
type FlagBinder interface {
	AddFlags(flagSet *pflag.FlagSet)
}

// FlagsFromParams returns a flag set whose flags write into the
// tagged fields of params, a pointer to a struct. It panics if params
// cannot be bound; that is a bug in the command definition.
//
//	var params priceParams
//	command := &cli.Command{
//	    Flags: func() *pflag.FlagSet {
//	        return cli.FlagsFromParams("price", &params)
//	    },
//	    Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
//	        // params is populated here
//	    },
//	}
func FlagsFromParams(name string, params any) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	if err := BindFlags(params, flagSet); err != nil {
		panic(fmt.Sprintf("cli.FlagsFromParams(%q): %v", name, err))
	}
	return flagSet
}

// BindFlags registers a flag on flagSet for every tagged field of
// params, a pointer to a struct.
//
// Tags:
//
//	flag:"name" or flag:"name,n"   long name and optional shorthand
//	desc:"..."                     help text
//	default:"..."                  default, parsed as the field's type
//
// Fields may be string, bool, int, float64, [time.Duration], []string
// (comma-separated default, repeatable flag), or [money.Amount]
// (decimal text such as "0.05"). Embedded structs are bound
// recursively, which is how commands share --config and --as; fields
// implementing [FlagBinder] bind themselves.
func BindFlags(params any, flagSet *pflag.FlagSet) error {
	value := reflect.ValueOf(params)
	if value.Kind() != reflect.Pointer || value.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("params must be a pointer to a struct, got %T", params)
	}
	return bindStruct(value.Elem(), flagSet)
}

// flagTags is a field's flag tags.
type flagTags struct {
	name        string
	shorthand   string
	usage       string
	defaultText string
}

func tagsOf(field reflect.StructField) (flagTags, bool) {
	tag, tagged := field.Tag.Lookup("flag")
	if !tagged || tag == "" {
		return flagTags{}, false
	}
	name, shorthand, _ := strings.Cut(tag, ",")
	return flagTags{
		name:        name,
		shorthand:   shorthand,
		usage:       field.Tag.Get("desc"),
		defaultText: field.Tag.Get("default"),
	}, true
}

func bindStruct(structValue reflect.Value, flagSet *pflag.FlagSet) error {
	structType := structValue.Type()
	for index := range structType.NumField() {
		field := structType.Field(index)
		fieldValue := structValue.Field(index)

		if field.IsExported() && field.Type.Kind() == reflect.Struct {
			if binder, ok := fieldValue.Addr().Interface().(FlagBinder); ok {
				binder.AddFlags(flagSet)
				continue
			}
		}
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			if err := bindStruct(fieldValue, flagSet); err != nil {
				return fmt.Errorf("embedded %s: %w", field.Name, err)
			}
			continue
		}

		tags, tagged := tagsOf(field)
		if !tagged {
			continue
		}
		if err := bindField(fieldValue.Addr().Interface(), tags, flagSet); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

func bindField(target any, tags flagTags, flagSet *pflag.FlagSet) error {
	var err error
	switch pointer := target.(type) {
	case *string:
		flagSet.StringVarP(pointer, tags.name, tags.shorthand, tags.defaultText, tags.usage)
	case *bool:
		err = bindParsed(flagSet.BoolVarP, pointer, tags, strconv.ParseBool)
	case *int:
		err = bindParsed(flagSet.IntVarP, pointer, tags, strconv.Atoi)
	case *float64:
		err = bindParsed(flagSet.Float64VarP, pointer, tags, func(text string) (float64, error) {
			return strconv.ParseFloat(text, 64)
		})
	case *time.Duration:
		err = bindParsed(flagSet.DurationVarP, pointer, tags, time.ParseDuration)
	case *[]string:
		var defaults []string
		if tags.defaultText != "" {
			defaults = strings.Split(tags.defaultText, ",")
		}
		flagSet.StringSliceVarP(pointer, tags.name, tags.shorthand, defaults, tags.usage)
	case *money.Amount:
		var initial money.Amount
		initial, err = parseDefault(tags.defaultText, money.Parse)
		if err == nil {
			*pointer = initial
			flagSet.VarP((*amountValue)(pointer), tags.name, tags.shorthand, tags.usage)
		}
	default:
		return fmt.Errorf("unsupported type %T for flag --%s", target, tags.name)
	}
	if err != nil {
		return fmt.Errorf("default for --%s: %w", tags.name, err)
	}
	return nil
}

// bindParsed registers a typed flag whose default is parsed from the
// field's default tag.
func bindParsed[T any](
	register func(pointer *T, name, shorthand string, value T, usage string),
	pointer *T,
	tags flagTags,
	parse func(string) (T, error),
) error {
	initial, err := parseDefault(tags.defaultText, parse)
	if err != nil {
		return err
	}
	register(pointer, tags.name, tags.shorthand, initial, tags.usage)
	return nil
}

// parseDefault treats empty text as the zero value.
func parseDefault[T any](text string, parse func(string) (T, error)) (T, error) {
	if text == "" {
		var zero T
		return zero, nil
	}
	return parse(text)
}

// amountValue is a [pflag.Value] over a money.Amount.
type amountValue money.Amount

func (a *amountValue) String() string { return money.Amount(*a).String() }

func (a *amountValue) Set(text string) error {
	parsed, err := money.Parse(text)
	if err != nil {
		return err
	}
	*a = amountValue(parsed)
	return nil
}

func (a *amountValue) Type() string { return "amount" }
