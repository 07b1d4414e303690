package domain

import (
	"encoding/json"
	"fmt"
)

// Payload is the rule-specific structured data attached to an alert.
// Each alert type has exactly one payload variant.
type Payload interface {
	AlertType() AlertType
	isPayload()
}

// LowReadinessData accompanies low_readiness alerts.
type LowReadinessData struct {
	AvgReadiness float64 `json:"avgReadiness"`
	Days         int     `json:"days"`
}

// VolumePlateauData accompanies volume_plateau alerts.
type VolumePlateauData struct {
	MuscleGroupID string  `json:"muscleGroupId"`
	AvgVolume     float64 `json:"avgVolume"`
	Weeks         int     `json:"weeks"`
}

// RecoveryLowData accompanies recovery_low alerts.
type RecoveryLowData struct {
	AvgSoreness     float64 `json:"avgSoreness"`
	AvgSleepQuality float64 `json:"avgSleepQuality"`
	AvgSleepHours   float64 `json:"avgSleepHours"`
}

// OvertrainingRiskData accompanies overtraining_risk alerts.
type OvertrainingRiskData struct {
	SessionsLastWeek int     `json:"sessionsLastWeek"`
	AvgReadiness     float64 `json:"avgReadiness"`
	AvgSoreness      float64 `json:"avgSoreness"`
}

// FatigueAccumulationData accompanies fatigue_accumulation alerts.
type FatigueAccumulationData struct {
	DecliningDays int     `json:"decliningDays"`
	ReadinessDrop float64 `json:"readinessDrop"`
}

// DeloadSuggestedData accompanies deload_suggested alerts.
type DeloadSuggestedData struct {
	HighIntensityWeeks int     `json:"highIntensityWeeks"`
	AvgRPE             float64 `json:"avgRpe"`
}

func (LowReadinessData) AlertType() AlertType        { return AlertLowReadiness }
func (VolumePlateauData) AlertType() AlertType       { return AlertVolumePlateau }
func (RecoveryLowData) AlertType() AlertType         { return AlertRecoveryLow }
func (OvertrainingRiskData) AlertType() AlertType    { return AlertOvertrainingRisk }
func (FatigueAccumulationData) AlertType() AlertType { return AlertFatigueAccumulation }
func (DeloadSuggestedData) AlertType() AlertType     { return AlertDeloadSuggested }

func (LowReadinessData) isPayload()        {}
func (VolumePlateauData) isPayload()       {}
func (RecoveryLowData) isPayload()         {}
func (OvertrainingRiskData) isPayload()    {}
func (FatigueAccumulationData) isPayload() {}
func (DeloadSuggestedData) isPayload()     {}

// EncodePayload serialises a payload for storage. A nil payload encodes as JSON null.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p)
}

// DecodePayload restores the payload variant that belongs to alertType.
// Empty or null input yields a nil payload.
func DecodePayload(alertType AlertType, raw []byte) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var (
		p   Payload
		err error
	)
	switch alertType {
	case AlertLowReadiness:
		var v LowReadinessData
		err = json.Unmarshal(raw, &v)
		p = v
	case AlertVolumePlateau:
		var v VolumePlateauData
		err = json.Unmarshal(raw, &v)
		p = v
	case AlertRecoveryLow:
		var v RecoveryLowData
		err = json.Unmarshal(raw, &v)
		p = v
	case AlertOvertrainingRisk:
		var v OvertrainingRiskData
		err = json.Unmarshal(raw, &v)
		p = v
	case AlertFatigueAccumulation:
		var v FatigueAccumulationData
		err = json.Unmarshal(raw, &v)
		p = v
	case AlertDeloadSuggested:
		var v DeloadSuggestedData
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlertType, alertType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", alertType, err)
	}
	return p, nil
}
