// Package rules holds the six training alert evaluators. Each evaluator is a pure function over
// samples already fetched by the caller and reports whether its alert fires.
package rules

import (
	"fmt"
	"math"

	"example.com/trainingalerts/internal/domain"
)

// Lookback windows the caller must fetch for each evaluator.
const (
	LowReadinessCheckins        = 3
	RecoveryLowCheckins         = 3
	OvertrainingCheckins        = 5
	OvertrainingSessionDays     = 7
	FatigueCheckins             = 7
	VolumePlateauWeeks          = 4
	DeloadWeeks                 = 6
	plateauSeriesLength         = 3
	plateauMaxDeviation         = 0.05
	recoveryLowMinCheckins      = 2
	overtrainingMinCheckins     = 3
	overtrainingMinSessions     = 4
	fatigueMinCheckins          = 5
	fatigueMinDecliningStreak   = 4
	deloadMinWeeks              = 4
	deloadMinHighIntensityWeeks = 4
	deloadRPEThreshold          = 7.5
	deloadSetsThreshold         = 15
)

// valueOr dereferences v or falls back to def when the metric was left blank.
func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func mean(checkins []domain.CheckinSample, pick func(domain.CheckinSample) *float64, def float64) float64 {
	if len(checkins) == 0 {
		return 0
	}
	var sum float64
	for _, c := range checkins {
		sum += valueOr(pick(c), def)
	}
	return sum / float64(len(checkins))
}

func readiness(c domain.CheckinSample) *float64    { return c.ReadinessScore }
func soreness(c domain.CheckinSample) *float64     { return c.SorenessLevel }
func sleepQuality(c domain.CheckinSample) *float64 { return c.SleepQuality }
func sleepHours(c domain.CheckinSample) *float64   { return c.SleepHours }

// newest keeps at most n samples from a newest-first slice.
func newest(checkins []domain.CheckinSample, n int) []domain.CheckinSample {
	if len(checkins) > n {
		return checkins[:n]
	}
	return checkins
}

// LowReadiness fires when the three newest check-ins average a readiness below 50.
// checkins must be ordered newest first.
func LowReadiness(checkins []domain.CheckinSample) (domain.AlertDraft, bool) {
	window := newest(checkins, LowReadinessCheckins)
	if len(window) < LowReadinessCheckins {
		return domain.AlertDraft{}, false
	}

	avg := mean(window, readiness, 0)
	if avg >= 50 {
		return domain.AlertDraft{}, false
	}

	return domain.AlertDraft{
		Type:     domain.AlertLowReadiness,
		Severity: domain.SeverityMedium,
		Title:    "Persistent low readiness",
		Message:  fmt.Sprintf("Average readiness over the last %d days: %.1f. Consider adjusting the load.", LowReadinessCheckins, avg),
		Data:     domain.LowReadinessData{AvgReadiness: avg, Days: LowReadinessCheckins},
	}, true
}

// VolumePlateau fires for the first muscle group, in id order, whose three most recent weekly
// volumes stay within 5% of their mean.
func VolumePlateau(samples []domain.WeeklyVolumeSample) (domain.AlertDraft, bool) {
	for _, series := range domain.GroupByMuscle(samples) {
		if len(series.Volumes) < plateauSeriesLength {
			continue
		}
		last := series.Volumes[len(series.Volumes)-plateauSeriesLength:]

		var sum float64
		for _, v := range last {
			sum += v
		}
		avg := sum / float64(len(last))

		denominator := avg
		if denominator == 0 {
			denominator = 1
		}
		var maxDeviation float64
		for _, v := range last {
			maxDeviation = math.Max(maxDeviation, math.Abs(v-avg)/denominator)
		}

		if maxDeviation >= plateauMaxDeviation || avg <= 0 {
			continue
		}

		name := series.MuscleGroupName
		if name == "" {
			name = series.MuscleGroupID
		}
		rounded := math.Round(avg)
		return domain.AlertDraft{
			Type:     domain.AlertVolumePlateau,
			Severity: domain.SeverityLow,
			Title:    "Volume plateau: " + name,
			Message: fmt.Sprintf("Volume for %s has stalled for %d weeks (average: %.0f kg). Consider a progression.",
				name, plateauSeriesLength, rounded),
			Data: domain.VolumePlateauData{MuscleGroupID: series.MuscleGroupID, AvgVolume: rounded, Weeks: plateauSeriesLength},
		}, true
	}
	return domain.AlertDraft{}, false
}

// RecoveryLow fires when soreness is high while sleep is short or poor over the newest check-ins.
func RecoveryLow(checkins []domain.CheckinSample) (domain.AlertDraft, bool) {
	window := newest(checkins, RecoveryLowCheckins)
	if len(window) < recoveryLowMinCheckins {
		return domain.AlertDraft{}, false
	}

	avgSoreness := mean(window, soreness, 5)
	avgQuality := mean(window, sleepQuality, 5)
	avgHours := mean(window, sleepHours, 7)

	if avgSoreness < 7 || (avgQuality >= 5 && avgHours >= 6) {
		return domain.AlertDraft{}, false
	}

	return domain.AlertDraft{
		Type:     domain.AlertRecoveryLow,
		Severity: domain.SeverityMedium,
		Title:    "Insufficient recovery",
		Message: fmt.Sprintf("High soreness (%.1f/10) with poor sleep (%.1f/10, %.1fh). Recovery is compromised.",
			avgSoreness, avgQuality, avgHours),
		Data: domain.RecoveryLowData{AvgSoreness: avgSoreness, AvgSleepQuality: avgQuality, AvgSleepHours: avgHours},
	}, true
}

// OvertrainingRisk fires when a client trains often in the trailing week while readiness is low
// and soreness is high across the five newest check-ins.
func OvertrainingRisk(sessionsLastWeek int, checkins []domain.CheckinSample) (domain.AlertDraft, bool) {
	window := newest(checkins, OvertrainingCheckins)
	if len(window) < overtrainingMinCheckins || sessionsLastWeek < overtrainingMinSessions {
		return domain.AlertDraft{}, false
	}

	avgReadiness := mean(window, readiness, 50)
	avgSoreness := mean(window, soreness, 5)
	if avgReadiness >= 45 || avgSoreness <= 7 {
		return domain.AlertDraft{}, false
	}

	return domain.AlertDraft{
		Type:     domain.AlertOvertrainingRisk,
		Severity: domain.SeverityHigh,
		Title:    "Overtraining risk",
		Message: fmt.Sprintf("%d sessions in %d days with low readiness (%.1f) and high soreness (%.1f). Overtraining risk is elevated.",
			sessionsLastWeek, OvertrainingSessionDays, avgReadiness, avgSoreness),
		Data: domain.OvertrainingRiskData{SessionsLastWeek: sessionsLastWeek, AvgReadiness: avgReadiness, AvgSoreness: avgSoreness},
	}, true
}

// FatigueAccumulation fires when readiness has strictly declined day over day at least four times
// in a row at the end of the newest seven check-ins.
func FatigueAccumulation(checkins []domain.CheckinSample) (domain.AlertDraft, bool) {
	window := newest(checkins, FatigueCheckins)
	if len(window) < fatigueMinCheckins {
		return domain.AlertDraft{}, false
	}

	// oldest first
	scores := make([]float64, len(window))
	for i, c := range window {
		scores[len(window)-1-i] = valueOr(c.ReadinessScore, 50)
	}

	streak := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] < scores[i-1] {
			streak++
		} else {
			streak = 0
		}
	}
	if streak < fatigueMinDecliningStreak {
		return domain.AlertDraft{}, false
	}

	first, last := scores[0], scores[len(scores)-1]
	return domain.AlertDraft{
		Type:     domain.AlertFatigueAccumulation,
		Severity: domain.SeverityMedium,
		Title:    "Progressive fatigue accumulation",
		Message: fmt.Sprintf("Readiness has declined for %d consecutive days (from %.1f to %.1f). Consider reducing the load.",
			streak+1, first, last),
		Data: domain.FatigueAccumulationData{DecliningDays: streak + 1, ReadinessDrop: first - last},
	}, true
}

// DeloadSuggested fires after four or more consecutive high intensity weeks counted back from the
// newest week. weeks must be ordered newest first.
func DeloadSuggested(weeks []domain.WeeklyLoad) (domain.AlertDraft, bool) {
	if len(weeks) < deloadMinWeeks {
		return domain.AlertDraft{}, false
	}

	highIntensity := 0
	for _, w := range weeks {
		if w.AvgRPE < deloadRPEThreshold || w.TotalSets < deloadSetsThreshold {
			break
		}
		highIntensity++
	}
	if highIntensity < deloadMinHighIntensityWeeks {
		return domain.AlertDraft{}, false
	}

	return domain.AlertDraft{
		Type:     domain.AlertDeloadSuggested,
		Severity: domain.SeverityLow,
		Title:    "Deload recommended",
		Message: fmt.Sprintf("%d consecutive high intensity weeks (RPE above %.1f). A deload week is recommended to support recovery.",
			highIntensity, deloadRPEThreshold),
		Data: domain.DeloadSuggestedData{HighIntensityWeeks: highIntensity, AvgRPE: weeks[0].AvgRPE},
	}, true
}
