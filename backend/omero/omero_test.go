package omero

import "testing"

func TestMatchesPrefix(t *testing.T) {
	cases := []struct {
		path, prefix string
		want         bool
	}{
		{"dir/a.txt", "dir", true},
		{"dir", "dir", true},
		{"other/a.txt", "dir", false},
		{"directory/a.txt", "dir", false},
	}
	for _, tt := range cases {
		if got := matchesPrefix(tt.path, tt.prefix); got != tt.want {
			t.Errorf("matchesPrefix(%q,%q) = %v, want %v", tt.path, tt.prefix, got, tt.want)
		}
	}
}
