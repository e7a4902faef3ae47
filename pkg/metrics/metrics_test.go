package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexus-project/nexus/pkg/metrics"
)

func TestNilCollectorsAreSafeToUse(t *testing.T) {
	var gate *metrics.GateMetrics
	var channel *metrics.ChannelMetrics
	var rebuild *metrics.RebuildMetrics

	assert.NotPanics(t, func() {
		gate.ObserveSuspend("nx", "ok")
		gate.ObserveResume("nx", "ok", 12.5)
		gate.SetPauseCount("nx", 1)

		channel.ObserveRead(0, 512, 0, "ok")
		channel.ObserveWrite(512, 0, "ok")
		channel.ObserveFlush(0, "ok")
		channel.RecordRefresh()

		rebuild.RecordStart("full")
		rebuild.SetProgress("dest", 100, 50)
		rebuild.RecordFinish("dest", "completed")
		rebuild.RecordSegmentError("read")
	})
}

func TestInitEnablesRegistryOnce(t *testing.T) {
	assert.False(t, metrics.IsEnabled())
	reg1 := metrics.Init()
	reg2 := metrics.Init()
	assert.True(t, metrics.IsEnabled())
	assert.Same(t, reg1, reg2)
	assert.Same(t, reg1, metrics.Registry())
}
