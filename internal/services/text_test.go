package services

import (
	"errors"
	"strings"
	"testing"
)

func TestCleanTextKeepsPlainText(t *testing.T) {
	cases := map[string]string{
		"&lt;script&gt;alert(1)&lt;/script&gt;": "&lt;script&gt;alert(1)&lt;/script&gt;",
		"  Tom & Jerry  ":                       "Tom & Jerry",
		"5 < 6 and 7 > 3":                       "5 < 6 and 7 > 3",
		"Cafe\u0301":                            "Caf\u00e9",
		"":                                      "",
	}
	for input, want := range cases {
		got, err := cleanText(input, "notes")
		if err != nil {
			t.Fatalf("cleanText(%q): unexpected error %v", input, err)
		}
		if got != want {
			t.Fatalf("cleanText(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCleanTextRejectsMarkup(t *testing.T) {
	for _, input := range []string{
		"Love <you> always",
		"<script>alert(1)</script>",
		"<b>bold</b> move",
		`hi <img src=x onerror="alert(1)">`,
	} {
		_, err := cleanText(input, "customization.giftMessage")
		if !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("cleanText(%q): expected invalid input, got %v", input, err)
		}
		if err != nil && !strings.Contains(err.Error(), "customization.giftMessage") {
			t.Fatalf("expected field name in error, got %v", err)
		}
	}
}

func TestCleanOptionalTextCountsNormalisedRunes(t *testing.T) {
	raw := strings.Repeat("e\u0301", 4)
	got, err := cleanOptionalText(&raw, "carrier", 4)
	if err != nil {
		t.Fatalf("expected composed text within limit, got %v", err)
	}
	if got == nil || *got != strings.Repeat("\u00e9", 4) {
		t.Fatalf("unexpected result %v", got)
	}

	long := "abcde"
	if _, err := cleanOptionalText(&long, "carrier", 4); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected length error, got %v", err)
	}
	if got, err := cleanOptionalText(nil, "carrier", 4); got != nil || err != nil {
		t.Fatalf("expected nil passthrough, got %v, %v", got, err)
	}
}
