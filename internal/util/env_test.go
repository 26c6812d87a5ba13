package util

import (
	"reflect"
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("RELAYNOTE_TEST_BOOL", "yes")
	if !ParseBoolEnv("RELAYNOTE_TEST_BOOL", false) {
		t.Error("expected true for yes")
	}
	t.Setenv("RELAYNOTE_TEST_BOOL", "maybe")
	if !ParseBoolEnv("RELAYNOTE_TEST_BOOL", true) {
		t.Error("expected default for invalid value")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("RELAYNOTE_TEST_STR", "")
	if got := GetEnv("RELAYNOTE_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("GetEnv = %q", got)
	}
	t.Setenv("RELAYNOTE_TEST_STR", " value ")
	if got := GetEnv("RELAYNOTE_TEST_STR", "fallback"); got != "value" {
		t.Errorf("GetEnv = %q", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		val  string
		want int
	}{
		{"", 100},
		{"25", 25},
		{" 7 ", 7},
		{"ten", 100},
	}
	for _, tt := range tests {
		t.Setenv("RELAYNOTE_TEST_INT", tt.val)
		if got := ParseIntEnv("RELAYNOTE_TEST_INT", 100); got != tt.want {
			t.Errorf("ParseIntEnv(%q) = %d, want %d", tt.val, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		val  string
		want time.Duration
	}{
		{"", time.Minute},
		{"300", 300 * time.Second},
		{"1.5", 1500 * time.Millisecond},
		{"100ms", 100 * time.Millisecond},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("RELAYNOTE_TEST_DUR", tt.val)
		if got := ParseDurationEnv("RELAYNOTE_TEST_DUR", time.Minute); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestParseInt64List(t *testing.T) {
	got, err := ParseInt64List(" 1001, ,-42,7 ")
	if err != nil {
		t.Fatalf("ParseInt64List: %v", err)
	}
	if want := []int64{1001, -42, 7}; !reflect.DeepEqual(got, want) {
		t.Errorf("ParseInt64List = %v, want %v", got, want)
	}
	if got, err := ParseInt64List(""); err != nil || got != nil {
		t.Errorf("empty list = %v, %v", got, err)
	}
	if _, err := ParseInt64List("1,abc"); err == nil {
		t.Error("expected error for invalid id")
	}
}
