package manager

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"vllmgate/internal/upstream"
)

// queueMetric is the vLLM gauge holding the number of waiting requests.
const queueMetric = "vllm:num_requests_waiting"

// Health probes the inference service and folds every failure into the
// verdict. It never returns an error.
func (m *Manager) Health(ctx context.Context) HealthSnapshot {
	var (
		code    int
		ids     []string
		listErr error
		queue   *int
	)
	var g errgroup.Group
	g.Go(func() error {
		code, ids, listErr = m.listModels(ctx, defaultHealthTimeout)
		return nil
	})
	g.Go(func() error {
		queue = m.scrapeQueue(ctx)
		return nil
	})
	_ = g.Wait()

	snap := HealthSnapshot{QueueSize: queue}
	switch {
	case listErr != nil && code == 0:
		snap.Error = listErr.Error()
	case listErr != nil:
		snap.UpstreamHealthy = true
		snap.Error = listErr.Error()
	case code != http.StatusOK:
		snap.Error = "vLLM returned status " + strconv.Itoa(code)
	default:
		snap.UpstreamHealthy = true
		snap.Models = ids
		snap.ModelLoaded = len(ids) > 0
	}
	switch {
	case !snap.UpstreamHealthy:
		snap.Status = HealthUnhealthy
	case !snap.ModelLoaded:
		snap.Status = HealthDegraded
	default:
		snap.Status = HealthHealthy
	}
	return snap
}

// scrapeQueue reads the queue depth from the inference service metrics.
// Any failure yields nil.
func (m *Manager) scrapeQueue(ctx context.Context) *int {
	resp, err := m.up.Do(ctx, http.MethodGet, m.up.MetricsURL(), upstream.Options{Timeout: defaultMetricsTimeout})
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	n, ok := parseQueueSize(resp.Body)
	if !ok {
		return nil
	}
	queueWaiting.Set(float64(n))
	return &n
}

// parseQueueSize returns the value of the first queueMetric sample in a
// Prometheus text exposition.
func parseQueueSize(r io.Reader) (int, bool) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		rest, ok := strings.CutPrefix(line, queueMetric)
		if !ok || rest == "" {
			continue
		}
		if rest[0] == '{' {
			end := strings.LastIndexByte(rest, '}')
			if end < 0 {
				continue
			}
			rest = rest[end+1:]
		} else if rest[0] != ' ' && rest[0] != '\t' {
			continue
		}
		// value [timestamp]
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		return int(v), true
	}
	return 0, false
}
