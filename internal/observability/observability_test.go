package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "json")
	require.Equal(t, logrus.DebugLevel, logger.GetLevel())

	Component(logger, "sweep").WithField("tenant_id", "t-1").Info("started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "sweep", entry["component"])
	require.Equal(t, "t-1", entry["tenant_id"])
	require.Equal(t, "started", entry["msg"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := newLogger(&bytes.Buffer{}, "chatty", "text")
	require.Equal(t, logrus.InfoLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
}

func TestRecordCounters(t *testing.T) {
	before := testutil.ToFloat64(dedupHitCounter.WithLabelValues("low_readiness"))
	RecordDedupHit("low_readiness")
	require.Equal(t, before+1, testutil.ToFloat64(dedupHitCounter.WithLabelValues("low_readiness")))

	skipped := testutil.ToFloat64(sweepSkippedCounter)
	RecordSweepSkipped()
	require.Equal(t, skipped+1, testutil.ToFloat64(sweepSkippedCounter))
}
