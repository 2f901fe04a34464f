package main

import (
	"testing"
	"time"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short, 10) = %q", got)
	}
	got := Truncate("abcdefghij", 8)
	if got != "abcde..." {
		t.Errorf("Truncate = %q, want abcde...", got)
	}
	if len(got) != 8 {
		t.Errorf("truncated length = %d, want 8", len(got))
	}
	if got := Truncate("abcdef", 3); got != "abc" {
		t.Errorf("tiny limit = %q, want abc", got)
	}
}

func TestFormatOffset(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{0, "0:00"},
		{999, "0:00"},
		{5000, "0:05"},
		{65000, "1:05"},
		{600000, "10:00"},
		{3725000, "1:02:05"},
	}
	for _, c := range cases {
		if got := FormatOffset(c.ms); got != c.want {
			t.Errorf("FormatOffset(%d) = %q, want %q", c.ms, got, c.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "∞"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, c := range cases {
		if got := FormatDuration(c.d); got != c.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
