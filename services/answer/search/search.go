// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package search provides the evidence engines behind the ask pipeline: web
// metasearch via SearxNG and per-user semantic search via Weaviate, plus the
// merge policy that turns their results into one ordered evidence list.
package search

import (
	"context"

	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
)

// Bundle is the evidence gathered for one query.
type Bundle struct {
	Texts  []datatypes.TextSource
	Images []datatypes.ImageSource
}

// WebEngine runs a metasearch query against the public web.
type WebEngine interface {
	// Search returns web results for the query, narrowed to the given
	// category. Implementations return an error only for transport and
	// protocol failures; an empty result set is not an error.
	Search(ctx context.Context, query string, category datatypes.SearchCategory) (Bundle, error)
}

// VectorEngine searches a user's private document store.
type VectorEngine interface {
	// Search returns up to limit documents belonging to userID that are
	// relevant to the query, best match first.
	Search(ctx context.Context, userID string, query string, limit int) ([]datatypes.TextSource, error)
}

// Merge combines vector and web evidence into one citation-ordered bundle.
//
// Vector hits come first so a user's own documents always take the lowest
// citation numbers, then web texts in engine rank order. Duplicate URLs are
// dropped, earliest occurrence wins. maxTexts bounds the combined text list;
// zero or negative means unbounded. Images pass through untouched since they
// are never cited.
func Merge(vector []datatypes.TextSource, web Bundle, maxTexts int) Bundle {
	seen := make(map[string]bool)
	texts := make([]datatypes.TextSource, 0, len(vector)+len(web.Texts))

	for _, src := range vector {
		if src.URL != "" && seen[src.URL] {
			continue
		}
		if src.URL != "" {
			seen[src.URL] = true
		}
		texts = append(texts, src)
	}
	for _, src := range web.Texts {
		if src.URL != "" && seen[src.URL] {
			continue
		}
		if src.URL != "" {
			seen[src.URL] = true
		}
		texts = append(texts, src)
	}

	if maxTexts > 0 && len(texts) > maxTexts {
		texts = texts[:maxTexts]
	}

	return Bundle{Texts: texts, Images: web.Images}
}
