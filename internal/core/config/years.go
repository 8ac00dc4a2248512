package config

import (
	"fmt"
	"strconv"
	"strings"
)

// maxYearSpan bounds a single range entry.
const maxYearSpan = 200

// ParseYears expands year entries such as "2018", "2018-2020" or
// "2018,2020" into a list of years. Order of first appearance is kept and
// duplicates are dropped.
func ParseYears(entries []string) ([]int, error) {
	var out []int
	seen := make(map[int]struct{})
	add := func(y int) {
		if _, ok := seen[y]; ok {
			return
		}
		seen[y] = struct{}{}
		out = append(out, y)
	}

	for _, entry := range entries {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}

			lo, hi, isRange := strings.Cut(part, "-")
			if !isRange {
				y, err := parseYear(part)
				if err != nil {
					return nil, err
				}
				add(y)
				continue
			}

			from, err := parseYear(strings.TrimSpace(lo))
			if err != nil {
				return nil, err
			}
			to, err := parseYear(strings.TrimSpace(hi))
			if err != nil {
				return nil, err
			}
			if to < from {
				return nil, fmt.Errorf("year range %q is descending", part)
			}
			if to-from > maxYearSpan {
				return nil, fmt.Errorf("year range %q spans more than %d years", part, maxYearSpan)
			}
			for y := from; y <= to; y++ {
				add(y)
			}
		}
	}
	return out, nil
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid year %q", s)
	}
	if y < 1 || y > 9999 {
		return 0, fmt.Errorf("year %d out of range", y)
	}
	return y, nil
}
