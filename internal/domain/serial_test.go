package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeSerial(t *testing.T) {
	got, err := NormalizeSerial("  k1s-a001-fb7 ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "K1S-A001-FB7" {
		t.Fatalf("got %q", got)
	}

	for _, raw := range []string{"", "ABC", "TOO_LONG_WITH_UNDERSCORE", "ABCDEFGHIJKLMNOPQRSTU", "K1S-A001-FB7!"} {
		if _, err := NormalizeSerial(raw); !errors.Is(err, ErrInvalidSerial) {
			t.Fatalf("expected ErrInvalidSerial for %q, got %v", raw, err)
		}
	}
}

func TestBuildSerial(t *testing.T) {
	if got := BuildSerial("A001", 4023); got != "K1S-A001-FB7" {
		t.Fatalf("got %q", got)
	}
	if got := BuildSerial("B202", 123); got != "K1S-B202-7B" {
		t.Fatalf("got %q", got)
	}
}

func TestWWYYToDate(t *testing.T) {
	// Week 40 of 2023: Jan 1 2023 is a Sunday, first Monday is Jan 2.
	got, err := WWYYToDate(4023)
	if err != nil {
		t.Fatalf("wwyy 4023: %v", err)
	}
	want := time.Date(2023, time.October, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s want %s", got, want)
	}
	if got.Weekday() != time.Monday {
		t.Fatalf("expected a Monday, got %s", got.Weekday())
	}

	first, err := WWYYToDate(123)
	if err != nil {
		t.Fatalf("wwyy 123: %v", err)
	}
	if !first.Equal(time.Date(2023, time.January, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("week 1 of 2023: got %s", first)
	}

	for _, wwyy := range []int{-1, 23, 5423, 10000} {
		if _, err := WWYYToDate(wwyy); err == nil {
			t.Fatalf("expected error for wwyy %d", wwyy)
		}
	}
}
