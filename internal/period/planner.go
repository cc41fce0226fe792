// Package period computes the calendar windows a harvest run should cover.
package period

import (
	"sort"
	"time"

	"github.com/fiscalops/docharvest/internal/harvest"
)

// Config selects the planning mode. An explicit range is active when all four
// bounds are set; trigger-day mode is active when TriggerDays is non-empty.
// When both are active the plan is the union of both modes' windows. When
// neither is, a default window around today is produced.
type Config struct {
	YearStart  int
	MonthStart int
	YearEnd    int
	MonthEnd   int

	TriggerDays []int
	Reprocess   bool
}

func (c Config) hasRange() bool {
	return c.YearStart > 0 && c.MonthStart > 0 && c.YearEnd > 0 && c.MonthEnd > 0
}

func (c Config) hasTriggerDays() bool {
	return len(c.TriggerDays) > 0
}

// Plan returns the ordered set of windows to process for cfg as of today.
// The result depends only on the arguments: identical inputs always produce
// the identical sequence.
func Plan(cfg Config, today time.Time) []harvest.Period {
	today = midnight(today)
	var periods []harvest.Period

	if cfg.hasRange() {
		periods = append(periods, rangePeriods(cfg)...)
	}
	if cfg.hasTriggerDays() {
		periods = append(periods, triggerPeriods(cfg, today)...)
	}
	if !cfg.hasRange() && !cfg.hasTriggerDays() {
		periods = append(periods, defaultPeriod(today))
	}
	return periods
}

// rangePeriods emits one window per calendar month from the start bound to the
// end bound inclusive.
func rangePeriods(cfg Config) []harvest.Period {
	var out []harvest.Period
	for year := cfg.YearStart; year <= cfg.YearEnd; year++ {
		for month := 1; month <= 12; month++ {
			if year == cfg.YearStart && month < cfg.MonthStart {
				continue
			}
			if year == cfg.YearEnd && month > cfg.MonthEnd {
				break
			}
			out = append(out, harvest.Period{
				Initial: date(year, month, 1),
				Final:   lastDayOfMonth(year, month),
			})
		}
	}
	return out
}

// triggerPeriods emits one window per configured trigger day that falls inside
// the recent-days lookback set: the last day of the previous month and the
// three days preceding today, with yesterday considered again when
// reprocessing.
func triggerPeriods(cfg Config, today time.Time) []harvest.Period {
	recent := map[int]bool{
		today.AddDate(0, 0, -1).Day(): true,
		today.AddDate(0, 0, -2).Day(): true,
		today.AddDate(0, 0, -3).Day(): true,
		lastDayOfMonth(today.Year(), int(today.Month())-1).Day(): true,
	}
	if cfg.Reprocess {
		recent[today.AddDate(0, 0, -1).Day()] = true
	}

	days := append([]int(nil), cfg.TriggerDays...)
	sort.Ints(days)

	var out []harvest.Period
	for _, day := range days {
		if !recent[day] {
			continue
		}
		out = append(out, harvest.Period{
			Initial: date(today.Year(), int(today.Month()), 1),
			Final:   date(today.Year(), int(today.Month()), day),
		})
	}
	return out
}

// defaultPeriod covers the previous month during the first five days of a
// month, and month-to-yesterday otherwise.
func defaultPeriod(today time.Time) harvest.Period {
	if today.Day() <= 5 {
		prev := today.AddDate(0, -1, 0)
		return harvest.Period{
			Initial: date(prev.Year(), int(prev.Month()), 1),
			Final:   lastDayOfMonth(today.Year(), int(today.Month())-1),
		}
	}
	final := today.AddDate(0, 0, -1)
	if today.Day() == 1 {
		final = date(today.Year(), int(today.Month()), 1)
	}
	return harvest.Period{
		Initial: date(today.Year(), int(today.Month()), 1),
		Final:   midnight(final),
	}
}

func date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// lastDayOfMonth accepts month 0 as December of the previous year.
func lastDayOfMonth(year, month int) time.Time {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
