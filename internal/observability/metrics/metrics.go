package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type updateKey struct {
	kind    string
	outcome string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	updates  map[updateKey]uint64
	latency  map[string]*histogram
}

var defaultCollector = &collector{
	requests: make(map[requestKey]uint64),
	updates:  make(map[updateKey]uint64),
	latency:  make(map[string]*histogram),
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultCollector.observeRequest(handler, method, status, duration)
}

// ObserveUpdate records the outcome of one processed chat update.
// kind is the classification (command, confirm, transaction, knowledge),
// outcome is ok or error.
func ObserveUpdate(kind, outcome string, duration time.Duration) {
	defaultCollector.observeUpdate(kind, outcome, duration)
}

func (c *collector) observeRequest(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	c.observeLatencyLocked("http_"+handler, duration)
}

func (c *collector) observeUpdate(kind, outcome string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.updates[updateKey{kind: kind, outcome: outcome}]++
	c.observeLatencyLocked("update_"+kind, duration)
}

func (c *collector) observeLatencyLocked(key string, duration time.Duration) {
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
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
	// Values greater than the last bucket are accounted for in the +Inf bucket via h.count.
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type requestMetric struct {
		requestKey
		value uint64
	}
	type updateMetric struct {
		updateKey
		value uint64
	}
	type latencyMetric struct {
		key     string
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}

	reqs := make([]requestMetric, 0, len(c.requests))
	for key, value := range c.requests {
		reqs = append(reqs, requestMetric{requestKey: key, value: value})
	}
	ups := make([]updateMetric, 0, len(c.updates))
	for key, value := range c.updates {
		ups = append(ups, updateMetric{updateKey: key, value: value})
	}
	lats := make([]latencyMetric, 0, len(c.latency))
	for key, hist := range c.latency {
		lats = append(lats, latencyMetric{
			key:     key,
			buckets: append([]float64(nil), hist.buckets...),
			counts:  append([]uint64(nil), hist.counts...),
			sum:     hist.sum,
			count:   hist.count,
		})
	}

	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].handler == reqs[j].handler {
			if reqs[i].method == reqs[j].method {
				return reqs[i].code < reqs[j].code
			}
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].handler < reqs[j].handler
	})
	sort.Slice(ups, func(i, j int) bool {
		if ups[i].kind == ups[j].kind {
			return ups[i].outcome < ups[j].outcome
		}
		return ups[i].kind < ups[j].kind
	})
	sort.Slice(lats, func(i, j int) bool { return lats[i].key < lats[j].key })

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP starkfinder_http_requests_total Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE starkfinder_http_requests_total counter\n")
	for _, metric := range reqs {
		builder.WriteString(fmt.Sprintf("starkfinder_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(metric.handler), escape(metric.method), escape(metric.code), metric.value))
	}

	builder.WriteString("# HELP starkfinder_updates_total Total number of chat updates processed by classification and outcome.\n")
	builder.WriteString("# TYPE starkfinder_updates_total counter\n")
	for _, metric := range ups {
		builder.WriteString(fmt.Sprintf("starkfinder_updates_total{kind=\"%s\",outcome=\"%s\"} %d\n",
			escape(metric.kind), escape(metric.outcome), metric.value))
	}

	builder.WriteString("# HELP starkfinder_duration_seconds Processing duration in seconds.\n")
	builder.WriteString("# TYPE starkfinder_duration_seconds histogram\n")
	for _, metric := range lats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("starkfinder_duration_seconds_bucket{op=\"%s\",le=\"%s\"} %d\n",
				escape(metric.key), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("starkfinder_duration_seconds_bucket{op=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.key), metric.count))
		builder.WriteString(fmt.Sprintf("starkfinder_duration_seconds_sum{op=\"%s\"} %s\n",
			escape(metric.key), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("starkfinder_duration_seconds_count{op=\"%s\"} %d\n",
			escape(metric.key), metric.count))
	}

	return builder.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
