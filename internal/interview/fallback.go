package interview

import (
	"fmt"
	"regexp"
	"strconv"
)

// Level is the candidate seniority inferred from free-text experience.
type Level int

const (
	LevelUnknown Level = iota
	LevelJunior
	LevelMid
	LevelSenior
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelJunior:
		return "JUNIOR"
	case LevelMid:
		return "MID"
	case LevelSenior:
		return "SENIOR"
	default:
		return "UNKNOWN"
	}
}

var firstNumber = regexp.MustCompile(`\d+`)

// ParseLevel infers the level from the first integer in experience:
// five or more years is senior, three or more is mid, anything lower is
// junior. Text without a number is unknown.
func ParseLevel(experience string) Level {
	m := firstNumber.FindString(experience)
	if m == "" {
		return LevelUnknown
	}
	years, err := strconv.Atoi(m)
	if err != nil {
		return LevelUnknown
	}
	switch {
	case years >= 5:
		return LevelSenior
	case years >= 3:
		return LevelMid
	default:
		return LevelJunior
	}
}

const fallbackIntro = "Welcome to the interview."

// FallbackStep returns the intro and first question shown when the
// Interview Service cannot be reached.
func FallbackStep(jobDescription string, level Level) (intro, question string) {
	switch level {
	case LevelSenior:
		question = fmt.Sprintf("Describe a production incident you solved related to %s, including trade-offs.", jobDescription)
	case LevelMid:
		question = fmt.Sprintf("Walk me through how you would design a solution for a real-world %s task.", jobDescription)
	case LevelJunior:
		question = fmt.Sprintf("Briefly explain a core concept relevant to %s and how you used it.", jobDescription)
	default:
		question = fmt.Sprintf("What key experience do you have related to %s?", jobDescription)
	}
	return fallbackIntro, question
}
