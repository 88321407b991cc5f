// Package parser turns the long listing of the NILFS2 lssu(1) tool into
// per-segment utilization records.
package parser

import (
	"bytes"
	"iter"
	"regexp"
	"strconv"
	"strings"
)

// Segment is one segment as reported by a single lssu snapshot.
type Segment struct {
	Number      uint64  // SEGNUM
	Modified    string  // DATE and TIME columns, space separated
	Flags       string  // STAT column, opaque
	Blocks      uint64  // NBLOCKS
	LiveBlocks  uint64  // NLIVEBLOCKS
	Utilization float64 // LiveBlocks / Blocks
}

// field is a single positional column of an lssu row.
type field struct {
	name    string
	pattern string
	capture bool
}

// rowFields describes an lssu -l row in column order.  The trailing
// percentage is matched but never captured; utilization is recomputed from
// the block counts.
var rowFields = []field{
	{name: "segnum", pattern: `\d+`, capture: true},
	{name: "date", pattern: `\d{4}-\d{2}-\d{2}`, capture: true},
	{name: "time", pattern: `\d{2}:\d{2}:\d{2}`, capture: true},
	{name: "stat", pattern: `\S+`, capture: true},
	{name: "nblocks", pattern: `\d+`, capture: true},
	{name: "nliveblocks", pattern: `\d+`, capture: true},
	{name: "percent", pattern: `\(\s*\d+%\s*\)`},
}

var rowRe = compileRow(rowFields)

// compileRow joins the fields into one anchored expression.  Fields are
// separated by whitespace except for the percentage which may directly
// follow the live block count.
func compileRow(fields []field) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString(`^\s*`)
	for k, f := range fields {
		if k > 0 {
			if k == len(fields)-1 {
				sb.WriteString(`\s*`)
			} else {
				sb.WriteString(`\s+`)
			}
		}
		if f.capture {
			sb.WriteString(`(?P<` + f.name + `>` + f.pattern + `)`)
		} else {
			sb.WriteString(`(?:` + f.pattern + `)`)
		}
	}
	return regexp.MustCompile(sb.String())
}

// ParseLine matches a single line against the lssu row shape.  The second
// return value is false for headers, blank lines and anything else that is
// not a row.  Utilization is not derived here.
func ParseLine(line string) (Segment, bool) {
	m := rowRe.FindStringSubmatch(line)
	if m == nil {
		return Segment{}, false
	}

	var (
		s    Segment
		date string
		err  error
	)
	for k, name := range rowRe.SubexpNames() {
		switch name {
		case "segnum":
			s.Number, err = strconv.ParseUint(m[k], 10, 64)
		case "date":
			date = m[k]
		case "time":
			s.Modified = date + " " + m[k]
		case "stat":
			s.Flags = m[k]
		case "nblocks":
			s.Blocks, err = strconv.ParseUint(m[k], 10, 64)
		case "nliveblocks":
			s.LiveBlocks, err = strconv.ParseUint(m[k], 10, 64)
		}
		if err != nil {
			// Out of range for uint64.
			return Segment{}, false
		}
	}
	return s, true
}

// Segments returns the segments contained in text in the order lssu reported
// them.  Non-row lines and zero capacity segments are skipped and the
// overflow policy decides what happens to segments that report more live
// blocks than they hold.  Lines are not length limited.  Every range over the returned sequence rescans
// text.
func Segments(text []byte, policy Overflow) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		for line := range bytes.Lines(text) {
			line = bytes.TrimRight(line, "\r\n")
			s, ok := ParseLine(string(line))
			if !ok {
				continue
			}
			if !Derive(&s, policy) {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Parse collects Segments into a slice.
func Parse(text []byte, policy Overflow) []Segment {
	segments := make([]Segment, 0, 64)
	for s := range Segments(text, policy) {
		segments = append(segments, s)
	}
	return segments
}
