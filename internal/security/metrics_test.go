package security

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	t.Setenv("POD_NAME", "messaging-0")

	labels, err := ParseMetricsLabels("service=messaging-service,pod=${POD_NAME}")
	require.NoError(t, err)
	require.Equal(t, prometheus.Labels{"service": "messaging-service", "pod": "messaging-0"}, labels)

	labels, err = ParseMetricsLabels("")
	require.NoError(t, err)
	require.Nil(t, labels)

	_, err = ParseMetricsLabels("novalue")
	require.ErrorContains(t, err, "expected key=value")

	_, err = ParseMetricsLabels("1bad=x")
	require.ErrorContains(t, err, "invalid label key")
}

func TestRecorders_AreSafeBeforeInit(t *testing.T) {
	// Package tests never call InitMetrics, so every recorder must tolerate nil collectors.
	require.NotPanics(t, func() {
		RecordMessageSent("delivered")
		SetActiveSessions(3)
		RecordSocketEvent("join")
		RecordEventPublishFailure()
		RecordLegacyImport("messages", 5)
		RecordCacheLookup(true)
	})
}
