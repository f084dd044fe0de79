package manager

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMetrics = `# HELP vllm:num_requests_waiting Number of requests waiting to be processed.
# TYPE vllm:num_requests_waiting gauge
vllm:num_requests_waiting_total{model_name="org/model"} 99.0
vllm:num_requests_waiting{model_name="org/model"} 3.0
vllm:num_requests_running{model_name="org/model"} 1.0
`

func TestHealth_Healthy(t *testing.T) {
	f := newFixture(t, nil)
	f.vllm.setModels("org/model")
	f.vllm.setMetrics(http.StatusOK, sampleMetrics)

	h := f.m.Health(context.Background())
	assert.Equal(t, HealthHealthy, h.Status)
	assert.True(t, h.UpstreamHealthy)
	assert.True(t, h.ModelLoaded)
	assert.Equal(t, []string{"org/model"}, h.Models)
	require.NotNil(t, h.QueueSize)
	assert.Equal(t, 3, *h.QueueSize)
	assert.Empty(t, h.Error)
}

func TestHealth_DegradedWithoutModel(t *testing.T) {
	f := newFixture(t, nil)
	h := f.m.Health(context.Background())
	assert.Equal(t, HealthDegraded, h.Status)
	assert.True(t, h.UpstreamHealthy)
	assert.False(t, h.ModelLoaded)
}

func TestHealth_UnhealthyWhenUnreachable(t *testing.T) {
	f := newFixture(t, nil)
	f.vllm.srv.Close()

	h := f.m.Health(context.Background())
	assert.Equal(t, HealthUnhealthy, h.Status)
	assert.False(t, h.UpstreamHealthy)
	assert.False(t, h.ModelLoaded)
	assert.Nil(t, h.QueueSize)
	assert.NotEmpty(t, h.Error)
}

func TestHealth_UnhealthyOnErrorStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.vllm.setModelsStatus(http.StatusServiceUnavailable)
	h := f.m.Health(context.Background())
	assert.Equal(t, HealthUnhealthy, h.Status)
	assert.Contains(t, h.Error, "503")
}

func TestHealth_MetricsFailureIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.vllm.setModels("org/model")
	f.vllm.setMetrics(http.StatusInternalServerError, "")

	h := f.m.Health(context.Background())
	assert.Equal(t, HealthHealthy, h.Status)
	assert.Nil(t, h.QueueSize)
	assert.Empty(t, h.Error)
}

func TestParseQueueSize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
		ok   bool
	}{
		{"labels", sampleMetrics, 3, true},
		{"bare", "vllm:num_requests_waiting 7\n", 7, true},
		{"timestamp", "vllm:num_requests_waiting{a=\"b c\"} 2.9 1700000000000\n", 2, true},
		{"comments only", "# TYPE vllm:num_requests_waiting gauge\n", 0, false},
		{"absent", "vllm:num_requests_running 1\n", 0, false},
		{"garbage value", "vllm:num_requests_waiting NaNx\n", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseQueueSize(strings.NewReader(tc.in))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
