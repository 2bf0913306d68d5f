package htmltext

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"空文字列", "", ""},
		{"タグなし", "plain text", "plain text"},
		{"タグ除去", "<p>hello <i>world</i></p>", "hello world"},
		{"段落境界はスペース", "<p>first</p><p>second</p>", "first second"},
		{"連続空白の正規化", "a\n\n  b\tc", "a b c"},
		{"ネスト", "<p>see <a href=\"https://example.com\">the link</a>.</p>", "see the link."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extract(tt.in); got != tt.want {
				t.Errorf("Extract(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		maxRunes int
		want     string
	}{
		{"短い本文はそのまま", "<p>short</p>", 10, "short"},
		{"ちょうど上限", "abcde", 5, "abcde"},
		{"切り詰めと省略記号", "abcdefghij", 5, "abcde…"},
		{"マルチバイトのルーン境界", "日本語のテキスト", 3, "日本語…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.in, tt.maxRunes); got != tt.want {
				t.Errorf("Preview(%q, %d) = %q, want %q", tt.in, tt.maxRunes, got, tt.want)
			}
		})
	}
}
