// Package assert holds the minimal assertion helpers the test suites use.
package assert

import (
	"reflect"
	"strings"
	"testing"
)

// Equal compares two values with reflect.DeepEqual and reports a difference.
func Equal(t *testing.T, expected, actual any, label string) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Errorf("Expected %v, got %v for %s", expected, actual, label)
	}
}

// NotEqual checks that two values differ.
func NotEqual(t *testing.T, unexpected, actual any, label string) {
	t.Helper()
	if reflect.DeepEqual(unexpected, actual) {
		t.Errorf("Expected value different from %v for %s", unexpected, label)
	}
}

// True fails if value is not true.
func True(t *testing.T, value bool, label string) {
	t.Helper()
	if !value {
		t.Errorf("Expected true for %s", label)
	}
}

// False fails if value is not false.
func False(t *testing.T, value bool, label string) {
	t.Helper()
	if value {
		t.Errorf("Expected false for %s", label)
	}
}

// Nil fails if value is not nil (nil slices, maps and typed nil pointers
// count as nil).
func Nil(t *testing.T, value any, label string) {
	t.Helper()
	if !isNil(value) {
		t.Errorf("Expected nil for %s, got %v", label, value)
	}
}

// NotNil fails if value is nil.
func NotNil(t *testing.T, value any, label string) {
	t.Helper()
	if isNil(value) {
		t.Errorf("Expected non-nil value for %s", label)
	}
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.Chan, reflect.Pointer, reflect.Interface, reflect.Func:
		return v.IsNil()
	}
	return false
}

// Len checks a collection's length, failing fatally so callers can index
// safely afterwards.
func Len(t *testing.T, expected int, collection any, label string) {
	t.Helper()
	v := reflect.ValueOf(collection)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
	default:
		t.Fatalf("Len requires slice/array/map/string, got %v for %s", v.Kind(), label)
	}
	if v.Len() != expected {
		t.Fatalf("Expected length %d, got %d for %s", expected, v.Len(), label)
	}
}

// Contains checks that haystack contains needle.
func Contains(t *testing.T, haystack, needle string, label string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Errorf("Expected %q to contain %q for %s", haystack, needle, label)
	}
}

// NotContains checks that haystack does not contain needle.
func NotContains(t *testing.T, haystack, needle string, label string) {
	t.Helper()
	if strings.Contains(haystack, needle) {
		t.Errorf("Expected %q to not contain %q for %s", haystack, needle, label)
	}
}

// Error checks that err is non-nil.
func Error(t *testing.T, err error, label string) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected error for %s", label)
	}
}

// NoError checks that err is nil.
func NoError(t *testing.T, err error, label string) {
	t.Helper()
	if err != nil {
		t.Errorf("Expected no error for %s, got: %v", label, err)
	}
}

// Greater checks that actual > expected.
func Greater(t *testing.T, actual, expected int, label string) {
	t.Helper()
	if actual <= expected {
		t.Errorf("Expected %d > %d for %s", actual, expected, label)
	}
}
