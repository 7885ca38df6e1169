package sanitize

import "testing"

func TestTextStripsTagsAndCollapsesWhitespace(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  Jan   de\tVries ", "Jan de Vries"},
		{"<b>Acme</b> BV", "Acme BV"},
		{"&lt;script&gt;alert(1)&lt;/script&gt;x", "alert(1)x"},
		{"line\none\x00", "line one"},
	}
	for _, tc := range cases {
		if got := Text(tc.in); got != tc.want {
			t.Fatalf("Text(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLimitCountsRunes(t *testing.T) {
	if got := Limit("héllo", 2); got != "hé" {
		t.Fatalf("expected hé, got %q", got)
	}
	if got := Limit("abc", 10); got != "abc" {
		t.Fatalf("expected abc untouched, got %q", got)
	}
}
