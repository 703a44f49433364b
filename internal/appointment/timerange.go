package appointment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidTimeRange = errors.New("time range must look like HH.MM - HH.MM with start before end")

// TimeRange is a same-day window in minutes since midnight, both ends inclusive.
type TimeRange struct {
	Start int
	End   int
}

func ParseTimeRange(raw string) (TimeRange, error) {
	parts := strings.Split(raw, "-")
	if len(parts) != 2 {
		return TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, raw)
	}

	start, err := parseClock(parts[0])
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, raw)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, raw)
	}
	if start > end {
		return TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, raw)
	}

	return TimeRange{Start: start, End: end}, nil
}

func parseClock(raw string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, ErrInvalidTimeRange
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, ErrInvalidTimeRange
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, ErrInvalidTimeRange
	}
	return h*60 + m, nil
}

func (r TimeRange) Contains(minute int) bool {
	return minute >= r.Start && minute <= r.End
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%02d.%02d - %02d.%02d", r.Start/60, r.Start%60, r.End/60, r.End%60)
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
