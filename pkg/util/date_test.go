package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeDateOnly(t *testing.T) {
	got, ok := ParseTime("2024-10-10")
	if !ok {
		t.Fatalf("expected ok")
	}
	if !got.Equal(time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeInvalid(t *testing.T) {
	for _, s := range []string{"", "not-a-time", "-5", "2024-13-40"} {
		if _, ok := ParseTime(s); ok {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}
