// Package splitter incrementally segments an append-only character stream
// into synthesis-ready chunks, the streaming counterpart to the teacher's
// batch-oriented sentence chunker.
package splitter

import (
	"strings"
)

// strongTerminators end a clause outright: sentence-final punctuation,
// their full-width equivalents, ellipsis, and newline.
var strongTerminators = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true,
	'…': true, '\n': true,
}

// weakBreakpoints are acceptable cut points once max_len is reached but no
// strong terminator has appeared yet.
var weakBreakpoints = map[rune]bool{
	',': true, ';': true, ':': true,
	'、': true, '，': true, '；': true, '：': true,
}

func isWeakBreak(r rune) bool {
	return weakBreakpoints[r] || r == ' ' || r == '\t'
}

// Options configures a Splitter's thresholds, in code points.
type Options struct {
	MinLen int
	MaxLen int
}

// DefaultOptions mirrors the distilled Python original's splitter defaults.
func DefaultOptions() Options {
	return Options{MinLen: 5, MaxLen: 40}
}

// Splitter turns characters fed incrementally via Feed into trimmed,
// non-empty segments. It is single-writer: callers must not call Feed or
// Flush concurrently from multiple goroutines on the same Splitter.
type Splitter struct {
	opts Options
	buf  []rune
}

// New builds a Splitter. A zero-value MinLen/MaxLen falls back to
// DefaultOptions' values.
func New(opts Options) *Splitter {
	if opts.MinLen <= 0 {
		opts.MinLen = DefaultOptions().MinLen
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultOptions().MaxLen
	}

	return &Splitter{opts: opts}
}

// Feed appends chunk to the internal buffer and returns zero or more
// segments emitted as a result, in text order.
func (s *Splitter) Feed(chunk string) []string {
	var segments []string

	for _, r := range chunk {
		s.buf = append(s.buf, r)
		segments = append(segments, s.scan()...)
	}

	return segments
}

// scan applies the emission rules once per appended character, possibly
// emitting more than one segment if the buffer is far over max_len (e.g.
// after a large Feed call with no prior scanning).
func (s *Splitter) scan() []string {
	var out []string

	for {
		seg, ok := s.tryEmit()
		if !ok {
			return out
		}
		if seg != "" {
			out = append(out, seg)
		}
	}
}

// tryEmit applies the three-rule algorithm once against the current buffer.
// It returns the emitted segment and true if a segment was cut, or ("",
// false) if the buffer does not yet warrant a cut.
func (s *Splitter) tryEmit() (string, bool) {
	if len(s.buf) == 0 {
		return "", false
	}

	if idx := s.lastRuneIndexIfStrongTerminator(); idx >= 0 && idx+1 >= s.opts.MinLen {
		return s.cutAt(idx + 1), true
	}

	if len(s.buf) < s.opts.MaxLen {
		return "", false
	}

	if idx := s.lastWeakBreakpointWithin(s.opts.MaxLen); idx >= 0 {
		return s.cutAt(idx + 1), true
	}

	return s.cutAt(s.opts.MaxLen), true
}

// lastRuneIndexIfStrongTerminator returns the buffer index of its final
// rune if that rune is a strong terminator, or -1 otherwise. Only the most
// recently appended rune can newly satisfy rule 1, so checking the tail is
// sufficient without rescanning the whole buffer on every character.
func (s *Splitter) lastRuneIndexIfStrongTerminator() int {
	last := len(s.buf) - 1
	if strongTerminators[s.buf[last]] {
		return last
	}
	return -1
}

// lastWeakBreakpointWithin returns the index of the last weak breakpoint at
// or before position limit-1, or -1 if none exists.
func (s *Splitter) lastWeakBreakpointWithin(limit int) int {
	if limit > len(s.buf) {
		limit = len(s.buf)
	}
	for i := limit - 1; i >= 0; i-- {
		if isWeakBreak(s.buf[i]) {
			return i
		}
	}
	return -1
}

// cutAt removes the first n runes from the buffer and returns them as a
// trimmed segment, or ("", false)-equivalent empty string if the trimmed
// result is empty (callers of tryEmit always pass a positive n, but an
// all-whitespace prefix still trims to "").
func (s *Splitter) cutAt(n int) string {
	if n > len(s.buf) {
		n = len(s.buf)
	}

	prefix := string(s.buf[:n])
	s.buf = s.buf[n:]

	return strings.TrimSpace(prefix)
}

// Flush emits any non-empty residual buffer as a final segment. It is
// idempotent: a second call with nothing fed in between returns "", false.
func (s *Splitter) Flush() (string, bool) {
	if len(s.buf) == 0 {
		return "", false
	}

	seg := strings.TrimSpace(string(s.buf))
	s.buf = nil

	if seg == "" {
		return "", false
	}

	return seg, true
}

// Len returns the current residual buffer length in code points, mostly
// useful for tests and diagnostics.
func (s *Splitter) Len() int {
	return len(s.buf)
}
