package domain

import (
	"sort"
	"strconv"
	"time"
)

// CheckinSample is one client-day of self-reported recovery data.
// Metrics are optional because the check-in form allows blanks.
type CheckinSample struct {
	Date           time.Time
	ReadinessScore *float64
	SorenessLevel  *float64
	SleepQuality   *float64
	SleepHours     *float64
}

// WeeklyVolumeSample is the weekly training volume of one muscle group.
type WeeklyVolumeSample struct {
	MuscleGroupID   string
	MuscleGroupName string
	WeekStart       time.Time
	TotalVolume     float64
	TotalSets       int
	AvgRPE          *float64
}

// WeeklyLoad aggregates every muscle group of a client for one week.
type WeeklyLoad struct {
	WeekStart time.Time
	TotalSets int
	AvgRPE    float64
}

// AggregateWeeks sums sets and averages the reported RPE per week, newest week first.
// Weeks without any reported RPE get an average of 0.
func AggregateWeeks(samples []WeeklyVolumeSample) []WeeklyLoad {
	type acc struct {
		sets     int
		rpeSum   float64
		rpeCount int
	}
	byWeek := make(map[time.Time]*acc)
	for _, s := range samples {
		week := s.WeekStart.UTC().Truncate(24 * time.Hour)
		a, ok := byWeek[week]
		if !ok {
			a = &acc{}
			byWeek[week] = a
		}
		a.sets += s.TotalSets
		if s.AvgRPE != nil {
			a.rpeSum += *s.AvgRPE
			a.rpeCount++
		}
	}

	out := make([]WeeklyLoad, 0, len(byWeek))
	for week, a := range byWeek {
		load := WeeklyLoad{WeekStart: week, TotalSets: a.sets}
		if a.rpeCount > 0 {
			load.AvgRPE = a.rpeSum / float64(a.rpeCount)
		}
		out = append(out, load)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeekStart.After(out[j].WeekStart) })
	return out
}

// MuscleGroupSeries is the oldest-first weekly volume history of one muscle group.
type MuscleGroupSeries struct {
	MuscleGroupID   string
	MuscleGroupName string
	Volumes         []float64
}

// GroupByMuscle splits samples into per-muscle-group series ordered by muscle group id,
// each series sorted oldest week first. Numeric ids sort by value ahead of any other ids.
func GroupByMuscle(samples []WeeklyVolumeSample) []MuscleGroupSeries {
	grouped := make(map[string][]WeeklyVolumeSample)
	names := make(map[string]string)
	for _, s := range samples {
		grouped[s.MuscleGroupID] = append(grouped[s.MuscleGroupID], s)
		if s.MuscleGroupName != "" {
			names[s.MuscleGroupID] = s.MuscleGroupName
		}
	}

	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return muscleGroupIDLess(ids[i], ids[j]) })

	out := make([]MuscleGroupSeries, 0, len(ids))
	for _, id := range ids {
		rows := grouped[id]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].WeekStart.Before(rows[j].WeekStart) })
		volumes := make([]float64, len(rows))
		for i, r := range rows {
			volumes[i] = r.TotalVolume
		}
		out = append(out, MuscleGroupSeries{MuscleGroupID: id, MuscleGroupName: names[id], Volumes: volumes})
	}
	return out
}

func muscleGroupIDLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// Tenant is an account on the platform; only its identity matters to the engine.
type Tenant struct {
	ID string
}

// Client is a coached athlete within a tenant.
type Client struct {
	ID       string
	TenantID string
}
