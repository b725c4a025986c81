// Package metrics keeps process-wide counters, gauges and histograms and
// renders them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewRegistry()

// Registry aggregates counters, gauges and histograms keyed by name+labels.
type Registry struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewRegistry() *Registry {
	return &Registry{startTime: time.Now()}
}

// Uptime returns how long the registry has existed.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks a distribution over fixed upper bounds.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns or creates the counter name{labels}.
func (r *Registry) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := r.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := r.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

// Gauge returns or creates the gauge name{labels}.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := r.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := r.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

// Histogram returns or creates the histogram name{labels}.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := r.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	bs := append([]float64(nil), buckets...)
	sort.Float64s(bs)
	hb := make([]histBucket, len(bs))
	for i, b := range bs {
		hb[i] = histBucket{le: b}
	}
	actual, _ := r.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

type series struct {
	name, help, labels string
	value              int64
}

func collect(m *sync.Map, read func(any) series) []series {
	var out []series
	m.Range(func(_, v any) bool {
		out = append(out, read(v))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].name != out[j].name {
			return out[i].name < out[j].name
		}
		return out[i].labels < out[j].labels
	})
	return out
}

func writeSeries(w io.Writer, kind string, all []series) {
	last := ""
	for _, s := range all {
		if s.name != last {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", s.name, s.help, s.name, kind)
			last = s.name
		}
		if s.labels != "" {
			fmt.Fprintf(w, "%s{%s} %d\n", s.name, s.labels, s.value)
		} else {
			fmt.Fprintf(w, "%s %d\n", s.name, s.value)
		}
	}
}

// WriteText renders every metric, sorted by name and labels.
func (r *Registry) WriteText(w io.Writer) {
	fmt.Fprintf(w, "# HELP lurkbot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(w, "# TYPE lurkbot_uptime_seconds gauge\n")
	fmt.Fprintf(w, "lurkbot_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	writeSeries(w, "counter", collect(&r.counters, func(v any) series {
		c := v.(*Counter)
		return series{c.name, c.help, c.labels, c.Value()}
	}))
	writeSeries(w, "gauge", collect(&r.gauges, func(v any) series {
		g := v.(*Gauge)
		return series{g.name, g.help, g.labels, g.Value()}
	}))

	var hists []*Histogram
	r.histograms.Range(func(_, v any) bool {
		hists = append(hists, v.(*Histogram))
		return true
	})
	sort.Slice(hists, func(i, j int) bool { return hists[i].name+hists[i].labels < hists[j].name+hists[j].labels })
	for _, h := range hists {
		h.writeText(w)
	}
}

func (h *Histogram) writeText(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
	prefix := h.name + "_bucket{"
	if h.labels != "" {
		prefix += h.labels + ","
	}
	for _, b := range h.buckets {
		fmt.Fprintf(w, "%sle=\"%g\"} %d\n", prefix, b.le, b.count)
	}
	fmt.Fprintf(w, "%sle=\"+Inf\"} %d\n", prefix, h.count)
	suffix := ""
	if h.labels != "" {
		suffix = "{" + h.labels + "}"
	}
	fmt.Fprintf(w, "%s_count%s %d\n", h.name, suffix, h.count)
	fmt.Fprintf(w, "%s_sum%s %f\n", h.name, suffix, h.sum)
}

// Handler serves the registry in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		var sb strings.Builder
		r.WriteText(&sb)
		fmt.Fprint(w, sb.String())
	}
}

// Metrics recorded by the reply pipeline.
var (
	MessagesSeen     = Collector.Counter("lurkbot_messages_total", "Messages received from the gateway", "")
	AIRequests       = Collector.Counter("lurkbot_ai_requests_total", "Model calls started", "")
	AIFailures       = Collector.Counter("lurkbot_ai_failures_total", "Model calls that errored, timed out or returned nothing", "")
	RepliesSent      = Collector.Counter("lurkbot_reply_parts_sent_total", "Reply parts delivered", "")
	DispatchFailures = Collector.Counter("lurkbot_dispatch_failures_total", "Reply part sends that failed", "")
	PipelinePanics   = Collector.Counter("lurkbot_pipeline_panics_total", "Recovered panics in message pipelines", "")

	InFlight    = Collector.Gauge("lurkbot_pipelines_in_flight", "Message pipelines currently running", "")
	PoolActive  = Collector.Gauge("lurkbot_pool_active", "Model calls running on the worker pool", "")
	PoolQueued  = Collector.Gauge("lurkbot_pool_queued", "Model calls waiting for a worker", "")
	CachedGuild = Collector.Gauge("lurkbot_servers_cached", "Servers in the settings cache", "")

	AILatency = Collector.Histogram("lurkbot_ai_latency_seconds", "Model call latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60})
)

// Decision counts a reply decision by the rule that settled it.
func Decision(path string) {
	Collector.Counter("lurkbot_decisions_total", "Reply decisions by path", `path="`+path+`"`).Inc()
}

// Command counts a handled slash command.
func Command(name string) {
	Collector.Counter("lurkbot_commands_total", "Slash commands handled", `command="`+name+`"`).Inc()
}
