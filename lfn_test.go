package digs

import "testing"

func TestDIREncodeDecodeRoundTrip(t *testing.T) {
	cases := []string{"a/b/c.txt", "fruit/apple", "top.txt", "a/b/c/d/e.dat"}
	for _, lfn := range cases {
		staged := EncodeDIR(lfn)
		if got := DecodeDIR(staged); got != lfn {
			t.Errorf("DecodeDIR(EncodeDIR(%q)) = %q, want %q", lfn, got, lfn)
		}
	}
}

func TestValidateLFNRejectsDirToken(t *testing.T) {
	if err := ValidateLFN("a-DIR-b"); err == nil {
		t.Fatalf("expected error for lfn containing reserved token")
	}
}

func TestValidateLFNRejectsEmptyAndSlashes(t *testing.T) {
	for _, lfn := range []string{"", "/a/b", "a/b/", "a//b"} {
		if err := ValidateLFN(lfn); err == nil {
			t.Errorf("ValidateLFN(%q) = nil, want error", lfn)
		}
	}
}

func TestValidateLFNAcceptsLegal(t *testing.T) {
	for _, lfn := range []string{"a", "a/b", "a/b/c.txt"} {
		if err := ValidateLFN(lfn); err != nil {
			t.Errorf("ValidateLFN(%q) = %v, want nil", lfn, err)
		}
	}
}

func TestDirName(t *testing.T) {
	cases := map[string]string{
		"a/b/c.txt": "a/b",
		"top.txt":   "",
		"a/b":       "a",
	}
	for lfn, want := range cases {
		if got := DirName(lfn); got != want {
			t.Errorf("DirName(%q) = %q, want %q", lfn, got, want)
		}
	}
}

func TestIsNullAttribute(t *testing.T) {
	if !IsNullAttribute("(null)") {
		t.Fatal("expected (null) to be the sentinel")
	}
	if IsNullAttribute("value") {
		t.Fatal("did not expect value to be the sentinel")
	}
}
