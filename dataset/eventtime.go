package dataset

import (
	"fmt"
	"regexp"
	"time"

	"github.com/rodent-software/tributary/interval"
)

// Derive returns the interval covered by an entry with the given name. The
// second return value is false if the name does not match the pattern.
func (e *EventTimeSource) Derive(name string) (interval.Interval, bool, error) {
	re, err := regexp.Compile(e.Pattern)
	if err != nil {
		return interval.Interval{}, false, fmt.Errorf("invalid event time pattern: %w", err)
	}
	match := re.FindStringSubmatch(name)
	if match == nil {
		return interval.Interval{}, false, nil
	}
	start, err := time.Parse(e.Layout, match[1])
	if err != nil {
		return interval.Interval{}, false, fmt.Errorf("entry %s: %w", name, err)
	}
	var end time.Time
	if len(match) > 2 {
		end, err = time.Parse(e.Layout, match[2])
		if err != nil {
			return interval.Interval{}, false, fmt.Errorf("entry %s: %w", name, err)
		}
	} else {
		end = start.Add(time.Duration(e.Period))
	}
	span, err := interval.New(start, end)
	if err != nil {
		return interval.Interval{}, false, fmt.Errorf("entry %s: %w", name, err)
	}
	return span, true, nil
}
