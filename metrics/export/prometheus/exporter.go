// Package prometheus renders the tokenward counter registry in Prometheus
// text exposition format, for deployments that scrape a plain HTTP endpoint
// instead of running an OpenTelemetry pipeline.
package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	tokenward "github.com/mwhern/tokenward"
	"github.com/mwhern/tokenward/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() tokenward.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders metrics on demand. Stateless and safe for
// concurrent use.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter reads from the given engine.
func NewPrometheusExporter(engine *tokenward.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource is the variant accepting any snapshot
// source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves the rendered metrics over HTTP.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current counters in text exposition format.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()

	var b strings.Builder
	for _, def := range internaldefs.CounterDefs {
		b.WriteString("# HELP " + def.Name + " " + def.Help + "\n")
		b.WriteString("# TYPE " + def.Name + " counter\n")
		b.WriteString(def.Name + " " + strconv.FormatUint(snapshot.Counters[def.ID], 10) + "\n")
	}

	b.WriteString("# HELP tokenward_audit_dropped_total Dropped audit events due to dispatcher backpressure.\n")
	b.WriteString("# TYPE tokenward_audit_dropped_total counter\n")
	b.WriteString("tokenward_audit_dropped_total " + strconv.FormatUint(p.source.AuditDropped(), 10) + "\n")

	return b.String()
}
