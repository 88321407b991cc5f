package workload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"
)

var (
	ErrBadSize     = errors.New("invalid size")
	ErrBadDuration = errors.New("invalid duration")
)

// ParseSize parses a byte count.  A bare number is bytes, K, M, G, T and P
// (with or without a trailing B) are powers of 1024.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrBadSize
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, nil
	}

	u := strings.ToUpper(s)
	switch u[len(u)-1] {
	case 'K', 'M', 'G', 'T', 'P':
		u += "B"
	}
	b, err := bytesize.Parse(u)
	if err != nil || b < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadSize, s)
	}
	return uint64(b), nil
}

// ParseDuration parses a duration.  A bare number is seconds, anything else
// uses time.ParseDuration units.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
	}
	return d, nil
}
