package transcript

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Caption cue parsing regular expressions.
var (
	// Matches timestamp range lines: 00:00:05.579 --> 00:00:06.858
	// (comma millisecond separators are accepted as well).
	cueTimestampRegex = regexp.MustCompile(`^(\d{2}:\d{2}:\d{2}[.,]\d{3})\s+-->\s+(\d{2}:\d{2}:\d{2}[.,]\d{3})`)

	// Matches bare numeric cue indices.
	cueIndexRegex = regexp.MustCompile(`^\d+$`)

	// Matches a leading "Speaker Name: utterance" attribution. The name must
	// start with a letter and stay within a name-like character set so URLs
	// and clock times in caption text are not mistaken for speakers.
	speakerLineRegex = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 .'’-]{0,62}):\s*(.*)$`)
)

// FormatResult is the output of formatting one raw caption track.
type FormatResult struct {
	// Text is the speaker-segmented prose: one paragraph per contiguous
	// speaker block, each opening with a "Speaker:" tag.
	Text string

	// Segments lists the contiguous speaker blocks in order.
	Segments []Segment

	// WordCount is the whitespace-token count of Text.
	WordCount int

	// DurationSeconds is derived from the last cue end timestamp, zero when
	// the input carries no timestamps.
	DurationSeconds int
}

// Format parses a line-oriented caption track (WEBVTT-style: header, numeric
// cue indices, timestamp ranges, caption text, blank separators) into
// speaker-segmented prose. A speaker tag is emitted only when the active
// speaker changes; repeated lines from the same speaker extend the current
// block, and lines without a speaker pattern are appended verbatim. The
// result is deterministic for identical input.
func Format(r io.Reader) (*FormatResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		out            strings.Builder
		segments       []Segment
		currentSpeaker string
		currentText    strings.Builder
		segmentStartMs = -1
		lastEndMs      int
		blockOpen      bool
	)

	flushSegment := func() {
		if !blockOpen {
			return
		}
		seg := Segment{
			Speaker: currentSpeaker,
			Text:    currentText.String(),
		}
		if segmentStartMs >= 0 {
			seg.StartMs = segmentStartMs
			seg.EndMs = lastEndMs
		}
		segments = append(segments, seg)
		currentText.Reset()
		segmentStartMs = -1
	}

	appendUtterance := func(text string) {
		if text == "" {
			return
		}
		if currentText.Len() > 0 {
			currentText.WriteString(" ")
			out.WriteString(" ")
		}
		currentText.WriteString(text)
		out.WriteString(text)
	}

	openBlock := func(speaker, text string) {
		flushSegment()
		if blockOpen {
			out.WriteString("\n\n")
		}
		blockOpen = true
		currentSpeaker = speaker
		if speaker != "" {
			out.WriteString(speaker)
			out.WriteString(": ")
		}
		currentText.WriteString(text)
		out.WriteString(text)
	}

	cueStartMs := -1

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip blank separators and the format header.
		if line == "" || strings.HasPrefix(line, "WEBVTT") {
			continue
		}

		// Skip numeric cue indices.
		if cueIndexRegex.MatchString(line) {
			continue
		}

		// Timestamp lines only contribute to duration tracking.
		if m := cueTimestampRegex.FindStringSubmatch(line); m != nil {
			cueStartMs = parseCueTimestamp(m[1])
			if endMs := parseCueTimestamp(m[2]); endMs > lastEndMs {
				lastEndMs = endMs
			}
			continue
		}

		if m := speakerLineRegex.FindStringSubmatch(line); m != nil {
			speaker, utterance := m[1], m[2]
			if speaker != currentSpeaker || !blockOpen {
				openBlock(speaker, utterance)
				segmentStartMs = cueStartMs
			} else {
				// Same speaker: extend the block without re-tagging.
				appendUtterance(utterance)
			}
			continue
		}

		// No speaker pattern: append verbatim to the running block.
		if !blockOpen {
			openBlock("", line)
			segmentStartMs = cueStartMs
		} else {
			appendUtterance(line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	flushSegment()

	text := out.String()
	return &FormatResult{
		Text:            text,
		Segments:        segments,
		WordCount:       len(strings.Fields(text)),
		DurationSeconds: lastEndMs / 1000,
	}, nil
}

// parseCueTimestamp parses HH:MM:SS.mmm (or HH:MM:SS,mmm) to milliseconds.
func parseCueTimestamp(ts string) int {
	ts = strings.ReplaceAll(ts, ",", ".")
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0
	}

	hours, _ := strconv.Atoi(parts[0])
	minutes, _ := strconv.Atoi(parts[1])

	secParts := strings.Split(parts[2], ".")
	seconds, _ := strconv.Atoi(secParts[0])
	milliseconds := 0
	if len(secParts) > 1 {
		milliseconds, _ = strconv.Atoi(secParts[1])
	}

	return hours*3600000 + minutes*60000 + seconds*1000 + milliseconds
}
