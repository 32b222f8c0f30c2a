package validator

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// All collects every non-nil error. It returns nil when none failed.
func All(errors ...error) error {
	var result *multierror.Error
	for _, err := range errors {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

type Validatable interface {
	Validate() error
}

func Each[T Validatable](items []T) error {
	var result *multierror.Error
	for i, item := range items {
		if err := item.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("item %d: %w", i, err))
		}
	}
	return result.ErrorOrNil()
}

func Map[T any](items []T, f func(T, string) error, description string) error {
	var result *multierror.Error
	for i, item := range items {
		if err := f(item, fmt.Sprintf("%s[%d]", description, i)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// MapDict visits keys in sorted order so aggregated errors are stable.
func MapDict[T any](items map[string]T, f func(string, T) error, description string) error {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var result *multierror.Error
	for _, key := range keys {
		if err := f(key, items[key]); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s[%s]: %w", description, key, err))
		}
	}
	return result.ErrorOrNil()
}

func NotEmpty(field, description string) error {
	if field == "" {
		return fmt.Errorf("%s must not be empty", description)
	}
	return nil
}

func NoDuplicates[T comparable](slice []T, description string) error {
	seen := make(map[T]struct{})
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			return fmt.Errorf("%s contains duplicate value: %v", description, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

func SliceHasElements[T comparable](slice []T, allowed []T, description string) error {
	for _, v := range slice {
		if err := MatchesAllowed(v, allowed, description); err != nil {
			return err
		}
	}
	return nil
}

func MatchesAllowed[T comparable](field T, allowed []T, description string) error {
	if !slices.Contains(allowed, field) {
		return fmt.Errorf("%s must be one of %v, got %v", description, allowed, field)
	}
	return nil
}

func InRange(n, lo, hi int, description string) error {
	if n < lo || n > hi {
		return fmt.Errorf("%s must be between %d and %d, got %d", description, lo, hi, n)
	}
	return nil
}

// DottedName checks that field is a dotted path of identifiers, such as a
// module or function name.
func DottedName(field, description string) error {
	if field == "" {
		return fmt.Errorf("%s must not be empty", description)
	}
	for _, part := range strings.Split(field, ".") {
		if !isIdentifier(part) {
			return fmt.Errorf("%s must be a dotted identifier, got %q", description, field)
		}
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// HasNoDirective rejects values that would be read as template syntax.
func HasNoDirective(field string, description string) error {
	if strings.Contains(field, "#") || strings.Contains(field, "$") {
		return fmt.Errorf("%s must not contain template directives or placeholders", description)
	}
	return nil
}
