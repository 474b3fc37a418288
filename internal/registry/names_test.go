package registry_test

import (
	"testing"

	"curator/internal/registry"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "University of Iowa", want: "UNIVERSITY_OF_IOWA"},
		{in: "  Dynamic_Hip_Screw  ", want: "DYNAMIC_HIP_SCREW"},
		{in: "knee   arthroscopy", want: "KNEE_ARTHROSCOPY"},
		{in: "münchen klinik", want: "MÜNCHEN_KLINIK"},
		{in: "   ", want: ""},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := registry.NormalizeName(tc.in); got != tc.want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMintUID(t *testing.T) {
	first := registry.MintUID()
	second := registry.MintUID()
	if first == "" || second == "" {
		t.Fatal("expected non-empty UIDs")
	}
	if first == second {
		t.Fatalf("expected unique UIDs, got %q twice", first)
	}
}
