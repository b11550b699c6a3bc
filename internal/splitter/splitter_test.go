package splitter_test

import (
	"testing"

	"github.com/example/tts-accelerator/internal/splitter"
)

func feedAll(s *splitter.Splitter, text string) []string {
	var segs []string
	segs = append(segs, s.Feed(text)...)
	if seg, ok := s.Flush(); ok {
		segs = append(segs, seg)
	}
	return segs
}

func TestSplitter_PrefetchBeatsFetchExample(t *testing.T) {
	s := splitter.New(splitter.Options{MinLen: 5, MaxLen: 40})

	got := feedAll(s, "Hello world. How are you today? I am fine.")
	want := []string{"Hello world.", "How are you today?", "I am fine."}

	if len(got) != len(want) {
		t.Fatalf("got %v segments, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("segment %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitter_ResidualFlush(t *testing.T) {
	s := splitter.New(splitter.Options{MinLen: 5, MaxLen: 40})

	segs := s.Feed("Hi there")
	if len(segs) != 0 {
		t.Fatalf("Feed() emitted %v before any terminator", segs)
	}

	seg, ok := s.Flush()
	if !ok {
		t.Fatal("Flush() ok = false, want true")
	}
	if seg != "Hi there" {
		t.Fatalf("Flush() = %q, want %q", seg, "Hi there")
	}
}

func TestSplitter_FlushIsIdempotent(t *testing.T) {
	s := splitter.New(splitter.Options{})
	s.Feed("residual")
	s.Flush()

	_, ok := s.Flush()
	if ok {
		t.Fatal("second Flush() should emit nothing")
	}
}

func TestSplitter_MinLenSuppressesShortTerminatedPrefix(t *testing.T) {
	s := splitter.New(splitter.Options{MinLen: 20, MaxLen: 40})

	segs := s.Feed("Hi. ")
	if len(segs) != 0 {
		t.Fatalf("Feed() = %v, want no emission below min_len", segs)
	}
}

func TestSplitter_HardCutWithNoBreakpoints(t *testing.T) {
	s := splitter.New(splitter.Options{MinLen: 1, MaxLen: 10})

	segs := s.Feed("abcdefghijklmnop")
	if len(segs) == 0 {
		t.Fatal("expected a hard-cut segment once max_len was exceeded")
	}
	if len(segs[0]) > 10 {
		t.Fatalf("first segment %q exceeds max_len", segs[0])
	}
}

func TestSplitter_WeakBreakpointPreferredOverHardCut(t *testing.T) {
	s := splitter.New(splitter.Options{MinLen: 1, MaxLen: 20})

	segs := s.Feed("one two three, four five six seven")
	if len(segs) == 0 {
		t.Fatal("expected at least one emitted segment")
	}
	// Cuts at the last whitespace breakpoint at or before max_len (20
	// characters in), not mid-word.
	if segs[0] != "one two three, four" {
		t.Fatalf("segs[0] = %q, want cut at weak breakpoint", segs[0])
	}
	if len([]rune(segs[0])) > 20 {
		t.Fatalf("segs[0] exceeds max_len: %q", segs[0])
	}
}

func TestSplitter_CharByCharMatchesBulkFeed(t *testing.T) {
	text := "Hello world. How are you today? I am fine."

	bulk := splitter.New(splitter.Options{MinLen: 5, MaxLen: 40})
	bulkSegs := feedAll(bulk, text)

	charwise := splitter.New(splitter.Options{MinLen: 5, MaxLen: 40})
	var charSegs []string
	for _, r := range text {
		charSegs = append(charSegs, charwise.Feed(string(r))...)
	}
	if seg, ok := charwise.Flush(); ok {
		charSegs = append(charSegs, seg)
	}

	if len(bulkSegs) != len(charSegs) {
		t.Fatalf("bulk segments %v != char-by-char segments %v", bulkSegs, charSegs)
	}
	for i := range bulkSegs {
		if bulkSegs[i] != charSegs[i] {
			t.Fatalf("segment %d: bulk=%q char-by-char=%q", i, bulkSegs[i], charSegs[i])
		}
	}
}

func TestSplitter_NeverEmitsEmptySegments(t *testing.T) {
	s := splitter.New(splitter.Options{MinLen: 1, MaxLen: 5})

	segs := s.Feed("... ... ...")
	for _, seg := range segs {
		if seg == "" {
			t.Fatal("splitter emitted an empty segment")
		}
	}
}

func TestSplitter_FullWidthStrongTerminators(t *testing.T) {
	s := splitter.New(splitter.Options{MinLen: 1, MaxLen: 40})

	segs := s.Feed("你好世界。")
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if segs[0] != "你好世界。" {
		t.Fatalf("segs[0] = %q, want %q", segs[0], "你好世界。")
	}
}
