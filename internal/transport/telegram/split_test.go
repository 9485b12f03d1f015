package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitText(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		wantN     int
	}{
		{"short", "привет", 10, "", 1},
		{"exact", strings.Repeat("я", 10), 10, "", 1},
		{"runes not bytes", strings.Repeat("я", 25), 10, "", 3},
		{"prefers newline", strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6), 10, "", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitText(tt.in, tt.limit, tt.parseMode)
			if len(got) != tt.wantN {
				t.Fatalf("splitText() = %d chunks %q, want %d", len(got), got, tt.wantN)
			}
			for _, c := range got {
				if utf8.RuneCountInString(c) > tt.limit {
					t.Fatalf("chunk %q exceeds limit %d", c, tt.limit)
				}
			}
		})
	}
}

func TestSplitTextNewlineBoundary(t *testing.T) {
	got := splitText("aaaaaa\nbbbbbb", 10, "")
	if got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("splitText() = %q, want [aaaaaa bbbbbb]", got)
	}
}

func TestSplitTextKeepsHTMLTagsWhole(t *testing.T) {
	in := "abcdefg<b>bold</b>"
	got := splitText(in, 9, "HTML")
	if strings.Join(got, "") != in {
		t.Fatalf("chunks %q do not reassemble to %q", got, in)
	}
	for _, c := range got {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk %q splits a tag", c)
		}
	}
}
