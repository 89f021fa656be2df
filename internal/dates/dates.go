// Package dates turns user-typed dates into the calendar format stored in
// projects.
//
// Accepted input, in order:
//   - ISO dates: 2024-03-15
//   - Argentine dates: 15/03/2024 or 15/03
//   - Spanish words: hoy, ayer, mañana, pasado mañana
//   - English expressions understood by github.com/olebedev/when, such as
//     "next friday" or "in 3 days"
package dates

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
)

// ErrUnrecognized is returned when no format matches.
var ErrUnrecognized = errors.New("unrecognized date")

var (
	parserOnce sync.Once
	parser     *when.Parser
)

func natural() *when.Parser {
	parserOnce.Do(func() {
		parser = when.New(nil)
		parser.Add(en.All...)
		parser.Add(common.All...)
	})
	return parser
}

var relativeDays = map[string]int{
	"hoy":           0,
	"ayer":          -1,
	"anteayer":      -2,
	"mañana":        1,
	"manana":        1,
	"pasado mañana": 2,
	"pasado manana": 2,
}

// Parse resolves input relative to now and returns it in schema.DateLayout.
func Parse(input string, now time.Time) (string, error) {
	t, err := ParseTime(input, now)
	if err != nil {
		return "", err
	}
	return t.Format(schema.DateLayout), nil
}

// ParseTime is Parse returning the time at midnight in now's location.
func ParseTime(input string, now time.Time) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty input", ErrUnrecognized)
	}
	loc := now.Location()

	if t, err := time.ParseInLocation(schema.DateLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2/1/2006", s, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2/1", s, loc); err == nil {
		return time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
	}
	if days, ok := relativeDays[s]; ok {
		return midnight(now).AddDate(0, 0, days), nil
	}

	r, err := natural().Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %w", ErrUnrecognized, input, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognized, input)
	}
	return midnight(r.Time.In(loc)), nil
}

// Deadline is like Parse but passes the task deadline placeholders through.
func Deadline(input string, now time.Time) (string, error) {
	switch strings.TrimSpace(input) {
	case "", schema.NoDeadline:
		return schema.NoDeadline, nil
	case schema.SuggestedDeadline:
		return schema.SuggestedDeadline, nil
	}
	return Parse(input, now)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
