package reasoning

import (
	"io"
	"strings"
)

// Reader adapts a raw interleaved provider body into a normalized
// plain-text stream. Reads from the upstream body are processed
// chunk-wise; an incomplete trailing line is carried into the next
// chunk so markers are never split mid-line.
type Reader struct {
	src   io.Reader
	norm  *Normalizer
	carry string
	out   []byte
	err   error
}

// NewReader wraps src with normalization.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src, norm: New()}
}

func (r *Reader) Read(p []byte) (int, error) {
	for len(r.out) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.fill()
	}
	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

// fill reads one upstream chunk and normalizes the complete lines in
// it. On upstream end the carried partial line and any open
// reasoning span are flushed before the error is surfaced.
func (r *Reader) fill() {
	chunk := make([]byte, 4096)
	n, err := r.src.Read(chunk)

	if n > 0 {
		text := r.carry + string(chunk[:n])
		if idx := strings.LastIndexByte(text, '\n'); idx >= 0 {
			r.carry = text[idx+1:]
			r.out = append(r.out, r.norm.Process(text[:idx+1])...)
		} else {
			r.carry = text
		}
	}

	if err != nil {
		tail := r.norm.Process(r.carry) + r.norm.Flush()
		r.carry = ""
		r.out = append(r.out, tail...)
		r.err = err
	}
}
