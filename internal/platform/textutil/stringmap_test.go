package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims keys and keeps values", func(t *testing.T) {
		input := map[string]string{
			" carriers.yamato ": " s3cret ",
			"payments.bank":     "abc",
			"empty":             " ",
			" ":                 "ignored",
		}

		expected := map[string]string{
			"carriers.yamato": " s3cret ",
			"payments.bank":   "abc",
			"empty":           " ",
		}

		actual := NormalizeStringMap(input)
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("lowercases keys and drops empty values", func(t *testing.T) {
		input := map[string]string{
			"Carriers.Yamato": "one",
			"payments.bank":   "  ",
		}

		actual := NormalizeStringMap(input, LowercaseKeys(), DropEmptyValues())
		expected := map[string]string{"carriers.yamato": "one"}
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil when nothing survives", func(t *testing.T) {
		if got := NormalizeStringMap(map[string]string{"a": ""}, DropEmptyValues()); got != nil {
			t.Fatalf("expected nil, got %#v", got)
		}
		if got := NormalizeStringMap(nil); got != nil {
			t.Fatalf("expected nil, got %#v", got)
		}
	})
}
