// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markup

import (
	"reflect"
	"strings"
	"testing"
)

func TestFormatInline(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []InlineSpan
	}{
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name:  "plain",
			input: "just text",
			want:  []InlineSpan{PlainText{Text: "just text"}},
		},
		{
			name:  "bold star",
			input: "Hello **world**",
			want:  []InlineSpan{PlainText{Text: "Hello "}, Bold{Text: "world"}},
		},
		{
			name:  "bold underscore",
			input: "__strong__ words",
			want:  []InlineSpan{Bold{Text: "strong"}, PlainText{Text: " words"}},
		},
		{
			name:  "italic star and underscore",
			input: "*a* and _b_",
			want:  []InlineSpan{Italic{Text: "a"}, PlainText{Text: " and "}, Italic{Text: "b"}},
		},
		{
			name:  "link",
			input: "[Link](http://x.com) after",
			want:  []InlineSpan{Link{Label: "Link", URL: "http://x.com"}, PlainText{Text: " after"}},
		},
		{
			name:  "inline code",
			input: "run `go test` now",
			want:  []InlineSpan{PlainText{Text: "run "}, Code{Text: "go test"}, PlainText{Text: " now"}},
		},
		{
			name:  "unterminated star",
			input: "*unterminated",
			want:  []InlineSpan{PlainText{Text: "*unterminated"}},
		},
		{
			name:  "unterminated bold",
			input: "**half bold",
			want:  []InlineSpan{PlainText{Text: "**half bold"}},
		},
		{
			name:  "no nesting",
			input: "**see [docs](http://d) *now***",
			want:  []InlineSpan{Bold{Text: "see [docs](http://d) *now"}, PlainText{Text: "*"}},
		},
		{
			name:  "adjacent spans leave no empty gaps",
			input: "**a**_b_",
			want:  []InlineSpan{Bold{Text: "a"}, Italic{Text: "b"}},
		},
		{
			name:  "link without url is text",
			input: "[label]() and [x] (y)",
			want:  []InlineSpan{PlainText{Text: "[label]() and [x] (y)"}},
		},
		{
			name:  "empty delimiter pairs",
			input: "****",
			want:  []InlineSpan{Italic{Text: "*"}, PlainText{Text: "*"}},
		},
		{
			name:  "unicode content",
			input: "Résumé **naïve** 日本",
			want:  []InlineSpan{PlainText{Text: "Résumé "}, Bold{Text: "naïve"}, PlainText{Text: " 日本"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatInline(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FormatInline(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

// TestFormatInline_Pathological makes sure long runs of delimiters terminate
// and never produce empty spans.
func TestFormatInline_Pathological(t *testing.T) {
	inputs := []string{
		strings.Repeat("*", 5000),
		strings.Repeat("_*", 5000),
		strings.Repeat("**__", 2000),
		strings.Repeat("[](", 2000),
		strings.Repeat("`", 3001),
	}
	for _, in := range inputs {
		spans := FormatInline(in)
		for i, s := range spans {
			if p, ok := s.(PlainText); ok && p.Text == "" {
				t.Fatalf("span %d of %q is an empty PlainText", i, in[:10])
			}
		}
	}
}

// TestFormatInline_CoversPlainInput checks that text without any delimiter
// comes back byte for byte.
func TestFormatInline_CoversPlainInput(t *testing.T) {
	inputs := []string{
		"Hello, world.",
		"tabs\tand  spaces ",
		"email me at a@b.c (soon)",
	}
	for _, in := range inputs {
		if got := SpanText(FormatInline(in)); got != in {
			t.Errorf("SpanText(FormatInline(%q)) = %q", in, got)
		}
	}
}

func TestSpanTextAndKind(t *testing.T) {
	spans := FormatInline("A **b** *c* `d` [e](http://f)")

	if got := SpanText(spans); got != "A b c d e" {
		t.Errorf("SpanText = %q, want %q", got, "A b c d e")
	}

	var kinds []string
	for _, s := range spans {
		kinds = append(kinds, SpanKind(s))
	}
	want := []string{"text", "bold", "text", "italic", "text", "code", "text", "link"}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}
