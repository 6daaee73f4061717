package stats

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"unicode/utf8"
)

const (
	// HoldThreshold is the number of distinct values kept in memory before
	// the tracker spills to a temporary file.
	HoldThreshold = 100000

	// TextSizeLimit is the longest value, in characters, that is tracked.
	TextSizeLimit = 120

	// MaxRepeatedReported bounds the list returned by Repeated.
	MaxRepeatedReported = 20
)

// uniquenessState is either *heldValues or *spilledValues.
type uniquenessState interface {
	close() error
}

type heldValues struct {
	seen map[string]struct{}
}

func (h *heldValues) close() error { return nil }

type spilledValues struct {
	file *os.File
	w    *bufio.Writer
}

func (s *spilledValues) close() error {
	name := s.file.Name()
	s.file.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Uniqueness detects repeated values. It answers precisely while the number
// of distinct values stays under the hold threshold. Beyond that it spills
// everything to a temporary file, stops answering online and only reports
// repeats from Repeated, which is terminal.
//
// I/O failures are sticky: tracking stops and Err reports the first failure.
type Uniqueness struct {
	state     uniquenessState
	threshold int
	dir       string
	err       error
}

// NewUniqueness creates a tracker with the default hold threshold that
// spills into the system temp directory.
func NewUniqueness() *Uniqueness {
	return NewUniquenessWithThreshold(HoldThreshold, "")
}

// NewUniquenessWithThreshold creates a tracker that spills into dir after
// threshold distinct values. An empty dir means os.TempDir.
func NewUniquenessWithThreshold(threshold int, dir string) *Uniqueness {
	return &Uniqueness{
		state:     &heldValues{seen: make(map[string]struct{})},
		threshold: threshold,
		dir:       dir,
	}
}

// IsRepeated records text and reports whether it was seen before. Values
// longer than TextSizeLimit characters are never tracked. After spilling it
// always answers false.
func (u *Uniqueness) IsRepeated(text string) bool {
	if u.err != nil || utf8.RuneCountInString(text) > TextSizeLimit {
		return false
	}
	switch s := u.state.(type) {
	case *heldValues:
		if _, ok := s.seen[text]; ok {
			return true
		}
		s.seen[text] = struct{}{}
		if len(s.seen) > u.threshold {
			u.spill(s)
		}
		return false
	case *spilledValues:
		u.writeLine(s, text)
		return false
	default:
		return false
	}
}

// IsSpilled reports whether the tracker has switched to its file.
func (u *Uniqueness) IsSpilled() bool {
	_, ok := u.state.(*spilledValues)
	return ok
}

// Err returns the first I/O failure, if any.
func (u *Uniqueness) Err() error {
	return u.err
}

// Repeated returns up to MaxRepeatedReported values found more than once in
// the spill file, then releases the file. In memory it returns nothing since
// repeats were already reported online. The tracker is closed afterwards.
func (u *Uniqueness) Repeated() ([]string, error) {
	if u.err != nil {
		u.Close()
		return nil, u.err
	}
	s, ok := u.state.(*spilledValues)
	if !ok {
		return nil, u.Close()
	}
	defer u.Close()

	if err := s.w.Flush(); err != nil {
		return nil, fmt.Errorf("flushing uniqueness file: %w", err)
	}
	if _, err := s.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("rewinding uniqueness file: %w", err)
	}

	seen := make(map[string]struct{})
	reported := make(map[string]struct{})
	var repeated []string
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line, err := strconv.Unquote(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("decoding uniqueness file: %w", err)
		}
		if _, dup := seen[line]; !dup {
			seen[line] = struct{}{}
			continue
		}
		if _, done := reported[line]; done {
			continue
		}
		reported[line] = struct{}{}
		repeated = append(repeated, line)
		if len(repeated) >= MaxRepeatedReported {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading uniqueness file: %w", err)
	}
	return repeated, nil
}

// Close releases any spill file. It is safe to call more than once.
func (u *Uniqueness) Close() error {
	if u.state == nil {
		return nil
	}
	err := u.state.close()
	u.state = nil
	return err
}

func (u *Uniqueness) spill(h *heldValues) {
	f, err := os.CreateTemp(u.dir, "uniqueness-*.txt")
	if err != nil {
		u.fail(fmt.Errorf("creating uniqueness file: %w", err))
		return
	}
	s := &spilledValues{file: f, w: bufio.NewWriter(f)}
	u.state = s
	for v := range h.seen {
		if !u.writeLine(s, v) {
			return
		}
	}
}

func (u *Uniqueness) writeLine(s *spilledValues, text string) bool {
	if _, err := s.w.WriteString(strconv.Quote(text)); err != nil {
		u.fail(fmt.Errorf("writing uniqueness file: %w", err))
		return false
	}
	if err := s.w.WriteByte('\n'); err != nil {
		u.fail(fmt.Errorf("writing uniqueness file: %w", err))
		return false
	}
	return true
}

func (u *Uniqueness) fail(err error) {
	u.err = err
	u.Close()
}
