package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type stageKey struct {
	stage string
	event string
}

type latencyKey struct {
	stage string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu      sync.Mutex
	stages  map[stageKey]uint64
	latency map[latencyKey]*histogram
}

var stageCollector = &collector{
	stages:  make(map[stageKey]uint64),
	latency: make(map[latencyKey]*histogram),
}

// ObserveStage records one completed stage round with its transition event
// and wall duration.
func ObserveStage(stage, event string, duration time.Duration) {
	stageCollector.observe(stage, event, duration)
}

func (c *collector) observe(stage, event string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stages[stageKey{stage: stage, event: event}]++

	latKey := latencyKey{stage: stage}
	hist := c.latency[latKey]
	if hist == nil {
		hist = newHistogram()
		c.latency[latKey] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, stageCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type stageMetric struct {
		stageKey
		value uint64
	}
	stages := make([]stageMetric, 0, len(c.stages))
	for key, value := range c.stages {
		stages = append(stages, stageMetric{stageKey: key, value: value})
	}
	sort.Slice(stages, func(i, j int) bool {
		if stages[i].stage == stages[j].stage {
			return stages[i].event < stages[j].event
		}
		return stages[i].stage < stages[j].stage
	})

	var builder strings.Builder
	builder.WriteString("# HELP agentbet_stage_rounds_total Completed stage rounds by transition event.\n")
	builder.WriteString("# TYPE agentbet_stage_rounds_total counter\n")
	for _, metric := range stages {
		builder.WriteString(fmt.Sprintf("agentbet_stage_rounds_total{stage=%q,event=%q} %d\n",
			metric.stage, metric.event, metric.value))
	}

	type latencyMetric struct {
		latencyKey
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}
	lats := make([]latencyMetric, 0, len(c.latency))
	for key, hist := range c.latency {
		lats = append(lats, latencyMetric{
			latencyKey: key,
			buckets:    append([]float64(nil), hist.buckets...),
			counts:     append([]uint64(nil), hist.counts...),
			sum:        hist.sum,
			count:      hist.count,
		})
	}
	sort.Slice(lats, func(i, j int) bool {
		return lats[i].stage < lats[j].stage
	})

	builder.WriteString("# HELP agentbet_stage_duration_seconds Stage round duration.\n")
	builder.WriteString("# TYPE agentbet_stage_duration_seconds histogram\n")
	for _, metric := range lats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("agentbet_stage_duration_seconds_bucket{stage=%q,le=%q} %d\n",
				metric.stage, fmt.Sprintf("%g", bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("agentbet_stage_duration_seconds_bucket{stage=%q,le=\"+Inf\"} %d\n",
			metric.stage, metric.count))
		builder.WriteString(fmt.Sprintf("agentbet_stage_duration_seconds_sum{stage=%q} %g\n",
			metric.stage, metric.sum))
		builder.WriteString(fmt.Sprintf("agentbet_stage_duration_seconds_count{stage=%q} %d\n",
			metric.stage, metric.count))
	}
	return builder.String()
}
