package compliance

import (
	"math"
	"time"

	"github.com/goodtune/adherence/internal/storage"
)

// summarize aggregates sessions from the compliance window ending at now.
// The trend periods are carved out of the same session set.
func summarize(sessions []storage.UsageSession, now time.Time) Summary {
	var (
		total        int
		recent       int
		previous     int
		lastSession  *time.Time
		recentStart  = now.Add(-TrendWindowDays * day)
		previousFrom = now.Add(-2 * TrendWindowDays * day)
	)

	for _, session := range sessions {
		total += session.DurationMinutes

		switch {
		case !session.CreatedAt.Before(recentStart) && !session.CreatedAt.After(now):
			recent += session.DurationMinutes
		case !session.CreatedAt.Before(previousFrom) && session.CreatedAt.Before(recentStart):
			previous += session.DurationMinutes
		}

		if lastSession == nil || session.CreatedAt.After(*lastSession) {
			createdAt := session.CreatedAt
			lastSession = &createdAt
		}
	}

	average := float64(total) / ComplianceWindowDays
	trend := ComputeTrend(recent, previous)

	return Summary{
		TotalSessions:        len(sessions),
		TotalDurationMinutes: total,
		AverageDailyUsage:    average,
		AverageDailyHours:    round(average/60, 2),
		CompliancePercentage: math.Min(100, float64(total)/(ComplianceWindowDays*TargetMinutesPerDay)*100),
		LastSession:          lastSession,
		UsageTrend:           &trend,
	}
}

// buildAnalytics buckets sessions by UTC calendar day of created_at. The
// series holds exactly days points starting at start.
func buildAnalytics(sessions []storage.UsageSession, start time.Time, days int) Analytics {
	daily := make(map[string]int)
	var split DayNight

	for _, session := range sessions {
		key := dateKey(session.CreatedAt)
		daily[key] += session.DurationMinutes

		if session.TimeOfDay == storage.TimeOfDayNight {
			split.Night += session.DurationMinutes
		} else {
			split.Day += session.DurationMinutes
		}
	}

	series := make([]DailyUsagePoint, 0, days)
	for i := 0; i < days; i++ {
		key := dateKey(start.AddDate(0, 0, i))
		minutes := daily[key]
		series = append(series, DailyUsagePoint{
			Date:         key,
			UsageMinutes: minutes,
			UsageHours:   round(float64(minutes)/60, 2),
		})
	}

	var sum, active int
	for _, minutes := range daily {
		sum += minutes
		if minutes > 0 {
			active++
		}
	}

	// Averages over days that have data, not over the window length.
	average := float64(sum) / float64(max(len(daily), 1))

	return Analytics{
		TimeSeries:           series,
		DayNightDistribution: split,
		TotalDays:            len(daily),
		ActiveDays:           active,
		AverageDailyMinutes:  average,
		AverageDailyHours:    round(average/60, 2),
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
