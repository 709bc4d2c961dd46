package availability

import (
	"fmt"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
)

// DescribeSlot renders a slot for people, e.g. "Tue 03.02.2026 09:00-10:30 [grid]".
func DescribeSlot(slot model.CandidateSlot, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	start, end := slot.StartTime.In(loc), slot.EndTime.In(loc)

	s := fmt.Sprintf("%s %s %s-%s",
		start.Format("Mon"),
		start.Format("02.01.2006"),
		start.Format("15:04"),
		end.Format("15:04"))
	if slot.OnCleanGrid {
		s += " [grid]"
	}
	return s
}

// FormatDuration renders minutes as "45 min", "2 h" or "1 h 30 min".
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%d h", hours)
	}
	return fmt.Sprintf("%d h %d min", hours, mins)
}
