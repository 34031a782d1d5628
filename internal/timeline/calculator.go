// Package timeline derives a participant's exam phase from wall-clock time
// and the test's single schedule anchor.
package timeline

import (
	"math"
	"time"

	"github.com/stemsi/mocktest-backend/internal/model"
)

const (
	// WaitingHall is the window after scheduled_at before the first module starts.
	WaitingHall = 3 * time.Minute
	// Break separates consecutive modules.
	Break = 2 * time.Minute
)

// Result is the calculator's output.
type Result struct {
	Phase       model.Phase
	ActiveIndex int
	TimeLeft    time.Duration
}

// Seconds returns the time left rounded up to whole seconds.
func (r Result) Seconds() int {
	if r.TimeLeft <= 0 {
		return 0
	}
	return int(math.Ceil(r.TimeLeft.Seconds()))
}

// Calculate walks the global timeline and reports where now falls on it.
// sections are ordered canonically before the walk, so ActiveIndex always
// refers to the canonical order. It never fails; non-positive time limits
// are rejected upstream.
func Calculate(now, scheduledAt time.Time, sections []model.Section, progress model.ModuleProgress) Result {
	hallEnd := scheduledAt.Add(WaitingHall)
	if now.Before(hallEnd) {
		return Result{Phase: model.PhaseJoining, TimeLeft: hallEnd.Sub(now)}
	}

	ordered := OrderSections(sections)
	cursor := hallEnd
	for i, s := range ordered {
		last := i == len(ordered)-1
		sectionEnd := cursor.Add(s.Duration())
		breakEnd := sectionEnd
		if !last {
			breakEnd = sectionEnd.Add(Break)
		}

		if progress[s.Type] && now.Before(breakEnd) {
			return Result{Phase: model.PhaseSubmittedWaiting, ActiveIndex: i, TimeLeft: breakEnd.Sub(now)}
		}
		if now.Before(sectionEnd) {
			return Result{Phase: model.PhaseExam, ActiveIndex: i, TimeLeft: sectionEnd.Sub(now)}
		}
		if !last && now.Before(breakEnd) {
			return Result{Phase: model.PhaseWaiting, ActiveIndex: i + 1, TimeLeft: breakEnd.Sub(now)}
		}
		cursor = breakEnd
	}

	return Result{Phase: model.PhaseFinished, ActiveIndex: len(ordered) - 1}
}

// End returns the instant from which Calculate reports finished.
func End(scheduledAt time.Time, sections []model.Section) time.Time {
	end := scheduledAt.Add(WaitingHall)
	for i, s := range sections {
		end = end.Add(s.Duration())
		if i < len(sections)-1 {
			end = end.Add(Break)
		}
	}
	return end
}

// CanJoin reports whether a participant who has not joined yet may still enter.
// The join grace closes exactly WaitingHall after scheduled_at.
func CanJoin(now, scheduledAt time.Time) bool {
	return now.Before(scheduledAt.Add(WaitingHall))
}

// Slot is one entry of the published schedule.
type Slot struct {
	Index    int               `json:"index"`
	Type     model.SectionType `json:"type"`
	StartsAt time.Time         `json:"starts_at"`
	EndsAt   time.Time         `json:"ends_at"`
}

// Schedule lists the absolute start and end of every module in canonical order.
func Schedule(scheduledAt time.Time, sections []model.Section) []Slot {
	ordered := OrderSections(sections)
	slots := make([]Slot, 0, len(ordered))
	cursor := scheduledAt.Add(WaitingHall)
	for i, s := range ordered {
		end := cursor.Add(s.Duration())
		slots = append(slots, Slot{Index: i, Type: s.Type, StartsAt: cursor, EndsAt: end})
		cursor = end.Add(Break)
	}
	return slots
}
