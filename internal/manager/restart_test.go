package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestartAPI_FiresAfterDelay(t *testing.T) {
	f := newFixture(t, nil)
	res := f.m.RestartAPI()
	assert.Equal(t, defaultManualRestartDelay, res.Delay)
	assert.Equal(t, "API will restart in 30 seconds to refresh DNS cache", res.Message)
	assert.Equal(t, "You may need to reconnect after restart", res.Info)

	_, restarts := f.sup.counts()
	assert.Zero(t, restarts)
	require.Eventually(t, func() bool {
		f.clk.Add(time.Second)
		_, restarts := f.sup.counts()
		return restarts == 1
	}, waitFor, tick)
	assert.Equal(t, []string{defaultSelfService}, f.sup.restarts)
	assert.Len(t, f.pub.Named(EventRestartScheduled), 1)
}

func TestScheduleSelfRestart_CanceledByClose(t *testing.T) {
	f := newFixture(t, func(c *ManagerConfig) { c.SelfService = "gateway" })
	require.True(t, f.m.ScheduleSelfRestart(time.Minute, "test"))
	require.NoError(t, f.m.Close())

	f.clk.Add(2 * time.Minute)
	_, restarts := f.sup.counts()
	assert.Zero(t, restarts)
	assert.False(t, f.m.ScheduleSelfRestart(time.Second, "late"), "closed manager must not spawn")
}
