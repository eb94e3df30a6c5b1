package render

import (
	"fmt"
	"time"
)

const (
	longDate      = "January 2, 2006"
	sectionHeader = "Monday, January 2, 2006"
)

// FormatDateRange renders the span between start and end for display.
// Both times should already be in the display location.
//
//	same day:    June 1, 2024
//	same month:  June 1–15, 2024
//	same year:   June 1 – July 2, 2024
//	otherwise:   December 30, 2023 – January 2, 2024
func FormatDateRange(start, end time.Time) string {
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()

	switch {
	case sy == ey && sm == em && sd == ed:
		return start.Format(longDate)
	case sy == ey && sm == em:
		return fmt.Sprintf("%s %d–%d, %d", sm, sd, ed, ey)
	case sy == ey:
		return fmt.Sprintf("%s %d – %s", sm, sd, end.Format(longDate))
	default:
		return start.Format(longDate) + " – " + end.Format(longDate)
	}
}
