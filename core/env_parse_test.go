package core

import (
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("TEST_SET_VAR", "value")

	if got := GetEnvOrDefault("TEST_SET_VAR", "fallback"); got != "value" {
		t.Errorf("set variable: got %q", got)
	}
	if got := GetEnvOrDefault("TEST_UNSET_VAR", "fallback"); got != "fallback" {
		t.Errorf("unset variable: got %q", got)
	}

	t.Setenv("TEST_EMPTY_VAR", "")
	if got := GetEnvOrDefault("TEST_EMPTY_VAR", "fallback"); got != "fallback" {
		t.Errorf("empty variable: got %q", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "forty-two")

	if got := ParseIntEnv("TEST_INT", 7); got != 42 {
		t.Errorf("valid int: got %d", got)
	}
	if got := ParseIntEnv("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("invalid int: got %d, want default 7", got)
	}
	if got := ParseIntEnv("TEST_INT_UNSET", 7); got != 7 {
		t.Errorf("unset int: got %d, want default 7", got)
	}
}

func TestParseFloat64Env(t *testing.T) {
	t.Setenv("TEST_FLOAT", "7.5")
	t.Setenv("TEST_FLOAT_BAD", "x")

	if got := ParseFloat64Env("TEST_FLOAT", 1.0); got != 7.5 {
		t.Errorf("valid float: got %v", got)
	}
	if got := ParseFloat64Env("TEST_FLOAT_BAD", 1.0); got != 1.0 {
		t.Errorf("invalid float: got %v, want default 1.0", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{" true ", false, true},
		{"maybe", true, true},
		{"maybe", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			if got := ParseBoolEnv("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v",
					tt.value, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DURATION", "90")

	if got := ParseDurationEnv("TEST_DURATION", 10); got != 90*time.Second {
		t.Errorf("valid duration: got %s", got)
	}
	if got := ParseDurationEnv("TEST_DURATION_UNSET", 10); got != 10*time.Second {
		t.Errorf("unset duration: got %s, want 10s", got)
	}
}
