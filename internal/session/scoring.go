package session

import (
	"math"
	"strings"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// MaxBand is the top of the IELTS band scale.
const MaxBand = 9.0

// IsCorrect compares a participant answer with the comma-separated accepted
// alternatives, ignoring surrounding whitespace and case. Blank answers never score.
func IsCorrect(answer, accepted string) bool {
	given := strings.ToLower(strings.TrimSpace(answer))
	if given == "" {
		return false
	}
	for _, alt := range strings.Split(accepted, ",") {
		if strings.ToLower(strings.TrimSpace(alt)) == given {
			return true
		}
	}
	return false
}

// Band maps a raw score onto the band scale without rounding.
func Band(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(correct) / float64(total) * MaxBand
}

// RoundBand rounds a band to the nearest half, for presentation.
func RoundBand(band float64) float64 {
	return math.Round(band*2) / 2
}

// Score grades one objective section.
func Score(questions []model.Question, answers map[string]string) model.SectionScore {
	correct := 0
	for _, q := range questions {
		if IsCorrect(answers[q.ID.String()], q.CorrectAnswer) {
			correct++
		}
	}
	band := Band(correct, len(questions))
	return model.SectionScore{Correct: correct, Total: len(questions), Band: &band}
}

// PresentScores copies scores with every band rounded to the nearest half.
func PresentScores(scores map[model.SectionType]model.SectionScore) map[model.SectionType]model.SectionScore {
	out := make(map[model.SectionType]model.SectionScore, len(scores))
	for t, s := range scores {
		if s.Band != nil {
			b := RoundBand(*s.Band)
			s.Band = &b
		}
		out[t] = s
	}
	return out
}
