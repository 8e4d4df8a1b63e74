package srm

import "testing"

func TestKeyJoinsHostAndPath(t *testing.T) {
	b := &Backend{bucket: "digs"}
	got := b.key("se01.example.ac.uk", "a/b.txt")
	want := "se01.example.ac.uk/a/b.txt"
	if got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}
