package credstore

import "testing"

func TestResolvePassesThroughPlaintext(t *testing.T) {
	got, err := Resolve("plain-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "plain-secret" {
		t.Fatalf("got %q, want unchanged plaintext", got)
	}
}

func TestIsRef(t *testing.T) {
	cases := map[string]bool{
		"keyring:svc/acct": true,
		"plaintext":        false,
		"":                 false,
	}
	for in, want := range cases {
		if got := IsRef(in); got != want {
			t.Fatalf("IsRef(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestResolveRejectsMalformedRef(t *testing.T) {
	if _, err := Resolve("keyring:noaccount"); err == nil {
		t.Fatal("expected error for malformed keyring reference")
	}
}
