package parser

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are tried in order. Day-first layouts come before month-first
// ones because the statements this importer receives are Brazilian.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	"02/01/06",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"2006.01.02",
	"2006/01/02",
	"20060102",
	"01/02/2006",
	"Jan 2, 2006",
	"02 Jan 2006",
}

// ParseDate parses a statement date in any supported layout and truncates
// it to the calendar day.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("date cannot be empty")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TruncateDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
