package llm

import (
	"errors"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Splitter groups streamed chunks into the messages the bot posts.
type Splitter interface {
	// Push adds a chunk and returns any messages now complete.
	Push(chunk string) []string
	// Flush returns whatever remains once the stream has ended.
	Flush() []string
}

// SplitStream feeds s through sp and calls emit for every message,
// including the remainder at end of stream. It returns the number of
// chunks read. An error from emit stops the stream.
func SplitStream(s TokenStream, sp Splitter, emit func(string) error) (int, error) {
	defer s.Close()
	n := 0
	for {
		tok, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}
		n++
		for _, msg := range sp.Push(tok) {
			if err := emit(msg); err != nil {
				return n, err
			}
		}
	}
	for _, msg := range sp.Flush() {
		if err := emit(msg); err != nil {
			return n, err
		}
	}
	return n, nil
}

// SentenceSplitter emits one message per sentence. A sentence ends at a
// newline, or after terminal punctuation (and any closing quotes or
// brackets) followed by whitespace.
type SentenceSplitter struct {
	buf strings.Builder
}

// NewSentenceSplitter creates a SentenceSplitter.
func NewSentenceSplitter() *SentenceSplitter { return &SentenceSplitter{} }

func (s *SentenceSplitter) Push(chunk string) []string {
	s.buf.WriteString(chunk)
	text := s.buf.String()

	var out []string
	start := 0
	runes := []rune(text)
	pos := 0
	for i := 0; i < len(runes); i++ {
		end := -1
		switch {
		case runes[i] == '\n':
			end = i
		case isTerminal(runes[i]):
			j := i + 1
			for j < len(runes) && (isTerminal(runes[j]) || isCloser(runes[j])) {
				j++
			}
			if j < len(runes) && unicode.IsSpace(runes[j]) {
				end = j
				i = j - 1
			}
		}
		if end < 0 {
			continue
		}
		if sentence := strings.TrimSpace(string(runes[start:end])); sentence != "" {
			out = append(out, sentence)
		}
		start = end
		pos = end
	}

	rest := string(runes[pos:])
	s.buf.Reset()
	s.buf.WriteString(rest)
	return out
}

func (s *SentenceSplitter) Flush() []string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if rest == "" {
		return nil
	}
	return []string{rest}
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’' || r == '*'
}

// RegexSplitter emits capture group 1 (or the whole match when the
// pattern has no groups) of each match of re in the accumulated text.
type RegexSplitter struct {
	re  *regexp.Regexp
	buf string
}

// NewRegexSplitter creates a RegexSplitter.
func NewRegexSplitter(re *regexp.Regexp) *RegexSplitter {
	return &RegexSplitter{re: re}
}

func (s *RegexSplitter) Push(chunk string) []string {
	s.buf += chunk
	var out []string
	consumed := 0
	for _, m := range s.re.FindAllStringSubmatchIndex(s.buf, -1) {
		lo, hi := m[0], m[1]
		if len(m) >= 4 && m[2] >= 0 {
			lo, hi = m[2], m[3]
		}
		if msg := strings.TrimSpace(s.buf[lo:hi]); msg != "" {
			out = append(out, msg)
		}
		consumed = m[1]
	}
	s.buf = s.buf[consumed:]
	return out
}

func (s *RegexSplitter) Flush() []string {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	if rest == "" {
		return nil
	}
	return []string{rest}
}

// WholeSplitter emits the full response as one message.
type WholeSplitter struct {
	buf strings.Builder
}

func (s *WholeSplitter) Push(chunk string) []string {
	s.buf.WriteString(chunk)
	return nil
}

func (s *WholeSplitter) Flush() []string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if rest == "" {
		return nil
	}
	return []string{rest}
}

// GroupingSplitter emits the whole response so far, at most once per
// interval and once more at the end if anything arrived since. It
// drives responses that are edited in place as they stream.
type GroupingSplitter struct {
	interval time.Duration
	now      func() time.Time
	last     time.Time
	buf      strings.Builder
	pending  bool
}

// NewGroupingSplitter creates a GroupingSplitter. An interval of zero
// emits on every chunk.
func NewGroupingSplitter(interval time.Duration) *GroupingSplitter {
	return &GroupingSplitter{interval: interval, now: time.Now}
}

func (s *GroupingSplitter) Push(chunk string) []string {
	if chunk == "" {
		return nil
	}
	s.buf.WriteString(chunk)
	s.pending = true
	now := s.now()
	if !s.last.IsZero() && now.Sub(s.last) < s.interval {
		return nil
	}
	s.last = now
	return s.emit()
}

func (s *GroupingSplitter) Flush() []string {
	if !s.pending {
		return nil
	}
	return s.emit()
}

func (s *GroupingSplitter) emit() []string {
	s.pending = false
	text := strings.TrimSpace(s.buf.String())
	if text == "" {
		return nil
	}
	return []string{text}
}
