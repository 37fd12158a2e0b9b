// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSnippetOf_ShortContentUnchanged(t *testing.T) {
	content := "a short document"
	if got := snippetOf(content); got != content {
		t.Errorf("snippetOf(%q) = %q", content, got)
	}
}

func TestSnippetOf_TruncatesLongContent(t *testing.T) {
	content := strings.Repeat("x", 500)
	got := snippetOf(content)
	if len(got) != 300 {
		t.Errorf("snippet length = %d, want 300", len(got))
	}
	if !strings.HasPrefix(content, got) {
		t.Error("snippet must be a prefix of the content")
	}
}

func TestSnippetOf_NeverSplitsRunes(t *testing.T) {
	// Position a multi-byte rune so the byte cap lands inside it.
	content := strings.Repeat("x", 299) + strings.Repeat("é", 50)
	got := snippetOf(content)
	if !utf8.ValidString(got) {
		t.Fatalf("snippet is not valid UTF-8: %q", got)
	}
	if len(got) > 300 {
		t.Errorf("snippet length = %d, want <= 300", len(got))
	}
	if !strings.HasPrefix(content, got) {
		t.Error("snippet must be a prefix of the content")
	}
}
