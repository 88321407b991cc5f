package parser

import (
	"fmt"
	"math"
)

// Overflow selects what happens to a segment that reports more live blocks
// than it has blocks.
type Overflow int

const (
	OverflowReject Overflow = iota // Drop the segment
	OverflowClamp                  // Keep counts, clamp utilization to 1
	OverflowPass                   // Keep utilization above 1
)

var overflowNames = map[Overflow]string{
	OverflowReject: "reject",
	OverflowClamp:  "clamp",
	OverflowPass:   "pass",
}

func (o Overflow) String() string {
	if s, ok := overflowNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Overflow(%d)", int(o))
}

// ParseOverflow returns the policy with the provided name.
func ParseOverflow(s string) (Overflow, error) {
	for k, v := range overflowNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("invalid overflow policy: %v", s)
}

// Utilization returns live/total.  The caller must ensure total is not 0.
func Utilization(live, total uint64) float64 {
	return float64(live) / float64(total)
}

// Derive fills in the utilization of s.  It returns false when s must not be
// recorded: zero capacity segments and, depending on policy, segments with
// more live blocks than blocks.
func Derive(s *Segment, policy Overflow) bool {
	if s.Blocks == 0 {
		return false
	}

	s.Utilization = Utilization(s.LiveBlocks, s.Blocks)
	if s.LiveBlocks <= s.Blocks {
		return true
	}

	switch policy {
	case OverflowClamp:
		log.Debugf("segment %v: clamping live blocks %v > %v",
			s.Number, s.LiveBlocks, s.Blocks)
		s.Utilization = math.Min(1, s.Utilization)
	case OverflowPass:
		log.Debugf("segment %v: live blocks %v > %v",
			s.Number, s.LiveBlocks, s.Blocks)
	default:
		log.Warnf("segment %v: rejecting live blocks %v > %v",
			s.Number, s.LiveBlocks, s.Blocks)
		return false
	}
	return true
}
