package app

import "testing"

func TestNormalizeAndReduce(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{"plain", "/foo/bar", "/foo/bar", true},
		{"unreserved decoded", "/%66%6f%6F", "/foo", true},
		{"tilde decoded", "/%7Euser", "/~user", true},
		{"digits decoded", "/%34%32", "/42", true},
		{"reserved escape uppercased", "/a%2fb", "/a%2Fb", true},
		{"space escape uppercased", "/a%20b", "/a%20b", true},
		{"mixed", "/%61%2fb?q=%2f", "/a%2Fb?q=%2F", true},
		{"encoded LF rejected", "/foo%0Abar", "", false},
		{"encoded CR rejected", "/foo%0dbar", "", false},
		{"encoded LF in query rejected", "/foo?x=%0A", "", false},
		{"stray percent in path rejected", "/100%", "", false},
		{"truncated escape in path rejected", "/a%2", "", false},
		{"non-hex escape in path rejected", "/a%zz", "", false},
		{"stray percent in query kept", "/a?x=100%", "/a?x=100%", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalizeAndReduce(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("normalizeAndReduce(%q) = (%q, %v), want (%q, %v)",
					tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCollapseSlashes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/foo//bar", "/foo/bar"},
		{"//foo///bar//", "/foo/bar/"},
		{"/foo/bar", "/foo/bar"},
		{"////", "/"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := collapseSlashes(tt.in); got != tt.want {
			t.Errorf("collapseSlashes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
