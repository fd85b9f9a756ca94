// Package reasoning normalizes provider streams that interleave a
// reasoning channel and an answer channel as line-prefixed markers
// inside one byte stream. The output is a single plain-text stream
// with reasoning wrapped in <think>...</think> delimiters.
package reasoning

import (
	"encoding/json"
	"strings"
)

const (
	// OpenDelimiter and CloseDelimiter wrap each logical reasoning
	// span exactly once in the normalized output.
	OpenDelimiter  = "<think>"
	CloseDelimiter = "</think>"

	// Line markers of the raw interleaved protocol. Each non-blank
	// line is "<marker>:<payload>".
	markerAnswerDelta    = '0'
	markerReasoningDelta = 'g'
	markerReasoningEnd   = 'e'
)

// Normalizer reconstructs the reasoning and answer channels from one
// interleaved raw stream. It keeps two pieces of per-request state:
// whether a reasoning span is open, and reasoning text buffered
// within the current chunk.
//
// Not safe for concurrent use; each request owns one Normalizer.
type Normalizer struct {
	open bool
	buf  strings.Builder
}

// New creates a Normalizer with a closed reasoning span.
func New() *Normalizer {
	return &Normalizer{}
}

// Process consumes one raw text chunk and returns the normalized
// output it produces. Lines are classified by marker; a chunk may
// contain any combination. Within a chunk, reasoning deltas are
// buffered first, then flushed (opening the delimiter on the first
// reasoning byte), then an end marker closes the span, then answer
// deltas are emitted. Answer content always forces an open span
// closed, even without an explicit end marker.
func (n *Normalizer) Process(chunk string) string {
	var answers []string
	sawEnd := false

	for _, line := range strings.Split(chunk, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		marker, payload, ok := splitLine(line)
		if !ok {
			continue
		}
		switch marker {
		case markerReasoningDelta:
			n.buf.WriteString(decodePayload(payload))
		case markerReasoningEnd:
			sawEnd = true
		case markerAnswerDelta:
			answers = append(answers, decodePayload(payload))
		}
	}

	var out strings.Builder

	if n.buf.Len() > 0 {
		if !n.open {
			out.WriteString(OpenDelimiter)
			n.open = true
		}
		out.WriteString(n.buf.String())
		n.buf.Reset()
	}

	if sawEnd && n.open {
		out.WriteString(CloseDelimiter)
		n.open = false
	}

	if len(answers) > 0 {
		if n.open {
			out.WriteString(CloseDelimiter)
			n.open = false
		}
		for _, a := range answers {
			out.WriteString(a)
		}
	}

	return out.String()
}

// Flush terminates the stream, closing a still-open reasoning span
// and draining any buffered reasoning text.
func (n *Normalizer) Flush() string {
	var out strings.Builder
	if n.buf.Len() > 0 {
		if !n.open {
			out.WriteString(OpenDelimiter)
			n.open = true
		}
		out.WriteString(n.buf.String())
		n.buf.Reset()
	}
	if n.open {
		out.WriteString(CloseDelimiter)
		n.open = false
	}
	return out.String()
}

// splitLine separates "<marker>:<payload>". Lines without the
// two-character prefix are ignored by the caller.
func splitLine(line string) (byte, string, bool) {
	if len(line) < 2 || line[1] != ':' {
		return 0, "", false
	}
	return line[0], line[2:], true
}

// decodePayload interprets a line payload as a JSON-quoted string,
// falling back to the raw slice with wrapping quotes stripped. A
// malformed payload never aborts the stream; the raw text is the
// best-effort result for that line only.
func decodePayload(payload string) string {
	if len(payload) >= 2 && payload[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(payload), &s); err == nil {
			return s
		}
		return strings.Trim(payload, `"`)
	}
	return payload
}
