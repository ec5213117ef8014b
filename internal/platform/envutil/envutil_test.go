package envutil

import (
	"testing"
	"time"
)

func TestStr(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_STR", "  hello  ")
	if got := Str("ENVUTIL_TEST_STR", "def"); got != "hello" {
		t.Fatalf("Str: got=%q want=hello", got)
	}
	if got := Str("ENVUTIL_TEST_STR_MISSING", "def"); got != "def" {
		t.Fatalf("Str missing: got=%q want=def", got)
	}
}

func TestInt(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_INT", "42")
	if got := Int("ENVUTIL_TEST_INT", 7); got != 42 {
		t.Fatalf("Int: got=%d want=42", got)
	}
	t.Setenv("ENVUTIL_TEST_INT", "not a number")
	if got := Int("ENVUTIL_TEST_INT", 7); got != 7 {
		t.Fatalf("Int unparseable: got=%d want=7", got)
	}
}

func TestBool(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{value: "1", want: true},
		{value: "true", want: true},
		{value: "YES", want: true},
		{value: "on", want: true},
		{value: "0", want: false},
		{value: "false", want: false},
		{value: "off", want: false},
		{value: "maybe", want: false},
	}
	for _, tc := range cases {
		t.Setenv("ENVUTIL_TEST_BOOL", tc.value)
		if got := Bool("ENVUTIL_TEST_BOOL", false); got != tc.want {
			t.Fatalf("Bool(%q): got=%v want=%v", tc.value, got, tc.want)
		}
	}
	if got := Bool("ENVUTIL_TEST_BOOL_MISSING", true); got != true {
		t.Fatalf("Bool missing: got=false want=true")
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_DUR", "90s")
	if got := Duration("ENVUTIL_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Fatalf("Duration: got=%v want=90s", got)
	}
	t.Setenv("ENVUTIL_TEST_DUR", "ninety")
	if got := Duration("ENVUTIL_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("Duration unparseable: got=%v want=1m", got)
	}
}
