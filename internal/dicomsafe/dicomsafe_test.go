package dicomsafe_test

import (
	"testing"
	"time"

	"curator/internal/dicomsafe"
)

func TestIsDICOM(t *testing.T) {
	payload := make([]byte, 132)
	copy(payload[128:], "DICM")
	if !dicomsafe.IsDICOM(payload) {
		t.Fatal("expected DICM preamble to be recognized")
	}
	if dicomsafe.IsDICOM([]byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("expected PNG payload to be rejected")
	}
	if dicomsafe.IsDICOM(payload[:100]) {
		t.Fatal("expected short payload to be rejected")
	}
}

func TestParseRejectsNonDICOM(t *testing.T) {
	if _, err := dicomsafe.Parse([]byte("just text")); err == nil {
		t.Fatal("expected parse failure for non-DICOM payload")
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		date string
		tod  string
		want time.Time
		ok   bool
	}{
		{date: "20240301", tod: "120530", want: time.Date(2024, 3, 1, 12, 5, 30, 0, time.UTC), ok: true},
		{date: "20240301", tod: "120530.250000", want: time.Date(2024, 3, 1, 12, 5, 30, 0, time.UTC), ok: true},
		{date: "20240301", tod: "", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), ok: true},
		{date: "20240301", tod: "12", want: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), ok: true},
		{date: "2024", tod: "120000", ok: false},
		{date: "", tod: "120000", ok: false},
	}
	for _, tc := range cases {
		got, ok := dicomsafe.ParseTimestamp(tc.date, tc.tod)
		if ok != tc.ok {
			t.Fatalf("ParseTimestamp(%q, %q) ok = %v, want %v", tc.date, tc.tod, ok, tc.ok)
		}
		if ok && !got.Equal(tc.want) {
			t.Fatalf("ParseTimestamp(%q, %q) = %v, want %v", tc.date, tc.tod, got, tc.want)
		}
	}
}

func TestTruncateDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "20240315", want: "20240301"},
		{in: "19991231", want: "19991201"},
		{in: "2024", want: "2024"},
		{in: "2024031X", want: "2024031X"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := dicomsafe.TruncateDate(tc.in); got != tc.want {
			t.Fatalf("TruncateDate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
