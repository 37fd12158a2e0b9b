// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

// StreamEventType discriminates events delivered through a StreamCallback.
type StreamEventType string

const (
	// StreamEventToken carries one chunk of generated text.
	StreamEventToken StreamEventType = "token"
	// StreamEventDone marks the natural end of a completed stream. Content
	// is empty.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is a single unit of streamed model output.
type StreamEvent struct {
	Type    StreamEventType
	Content string
}

// StreamCallback receives stream events in generation order. Returning a
// non-nil error aborts the stream and propagates out of ChatStream.
type StreamCallback func(event StreamEvent) error
