package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("critical").Rank())
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity("high")
	require.NoError(t, err)
	require.Equal(t, SeverityHigh, s)

	s, err = ParseSeverity("")
	require.NoError(t, err)
	require.Equal(t, Severity(""), s)

	_, err = ParseSeverity("urgent")
	require.ErrorIs(t, err, ErrInvalidSeverity)
}

func TestListFilterNormalize(t *testing.T) {
	assert.Equal(t, DefaultListLimit, ListFilter{}.Normalize().Limit)
	assert.Equal(t, MaxListLimit, ListFilter{Limit: 5000}.Normalize().Limit)
	assert.Equal(t, 10, ListFilter{Limit: 10}.Normalize().Limit)
}

func TestDecodePayloadPicksVariantByType(t *testing.T) {
	raw, err := EncodePayload(VolumePlateauData{MuscleGroupID: "mg-1", AvgVolume: 1003, Weeks: 3})
	require.NoError(t, err)
	require.JSONEq(t, `{"muscleGroupId":"mg-1","avgVolume":1003,"weeks":3}`, string(raw))

	p, err := DecodePayload(AlertVolumePlateau, raw)
	require.NoError(t, err)
	require.Equal(t, VolumePlateauData{MuscleGroupID: "mg-1", AvgVolume: 1003, Weeks: 3}, p)
	require.Equal(t, AlertVolumePlateau, p.AlertType())
}

func TestDecodePayloadNullAndUnknown(t *testing.T) {
	p, err := DecodePayload(AlertLowReadiness, []byte("null"))
	require.NoError(t, err)
	require.Nil(t, p)

	_, err = DecodePayload(AlertType("mystery"), []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownAlertType)
}

func TestAggregateWeeks(t *testing.T) {
	w1 := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	w2 := w1.AddDate(0, 0, 7)
	rpe := func(v float64) *float64 { return &v }

	loads := AggregateWeeks([]WeeklyVolumeSample{
		{MuscleGroupID: "a", WeekStart: w1, TotalSets: 10, AvgRPE: rpe(7)},
		{MuscleGroupID: "b", WeekStart: w1, TotalSets: 8, AvgRPE: rpe(9)},
		{MuscleGroupID: "a", WeekStart: w2, TotalSets: 6},
	})

	require.Len(t, loads, 2)
	assert.Equal(t, w2, loads[0].WeekStart)
	assert.Equal(t, 6, loads[0].TotalSets)
	assert.Equal(t, 0.0, loads[0].AvgRPE)
	assert.Equal(t, 18, loads[1].TotalSets)
	assert.InDelta(t, 8.0, loads[1].AvgRPE, 0.001)
}

func TestGroupByMuscleOrdersNumericIDsByValue(t *testing.T) {
	week := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	series := GroupByMuscle([]WeeklyVolumeSample{
		{MuscleGroupID: "legs", WeekStart: week, TotalVolume: 1},
		{MuscleGroupID: "10", WeekStart: week, TotalVolume: 2},
		{MuscleGroupID: "9", WeekStart: week.AddDate(0, 0, 7), TotalVolume: 4},
		{MuscleGroupID: "9", WeekStart: week, TotalVolume: 3},
		{MuscleGroupID: "arms", WeekStart: week, TotalVolume: 5},
	})

	ids := make([]string, len(series))
	for i, s := range series {
		ids[i] = s.MuscleGroupID
	}
	assert.Equal(t, []string{"9", "10", "arms", "legs"}, ids)
	assert.Equal(t, []float64{3, 4}, series[0].Volumes)
}
