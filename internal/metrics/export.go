package metrics

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/systmms/keypair/internal/logging"
)

// namePrefix selects the series this package owns when summarizing.
const namePrefix = "keypair_"

// Exporter ships the gathered series once an event has been reported.
// A Lambda container may be frozen right after the handler returns, so
// nothing is left to a background scraper.
type Exporter interface {
	Export(ctx context.Context) error
}

// PushExporter replaces this instance's group on a Prometheus push gateway
type PushExporter struct {
	pusher  *push.Pusher
	timeout time.Duration
}

// NewPushExporter pushes g to gatewayURL under job. A non-empty instance
// becomes a grouping label so concurrent containers do not overwrite each
// other.
func NewPushExporter(gatewayURL, job, instance string, g prometheus.Gatherer, timeout time.Duration) *PushExporter {
	pusher := push.New(gatewayURL, job).Gatherer(g)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	return &PushExporter{pusher: pusher, timeout: timeout}
}

// Export pushes the current values. It runs even when ctx is already
// canceled, bounded by the exporter's own timeout.
func (e *PushExporter) Export(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := e.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}

// LogExporter writes one summary line per event. CloudWatch metric
// filters can pick the values up from there.
type LogExporter struct {
	logger   *logging.Logger
	gatherer prometheus.Gatherer
}

// NewLogExporter summarizes g into logger
func NewLogExporter(logger *logging.Logger, g prometheus.Gatherer) *LogExporter {
	return &LogExporter{logger: logger, gatherer: g}
}

// Export logs the summary. Nothing is logged before the first event.
func (e *LogExporter) Export(context.Context) error {
	summary, err := Summary(e.gatherer)
	if err != nil {
		return err
	}
	if summary != "" {
		e.logger.Info("Metrics: %s", summary)
	}
	return nil
}

// Summary renders the keypair_* counters and histogram totals of g on one
// line, e.g. keypair_reconcile_total{request_type="Create",status="SUCCESS"} 1.
func Summary(g prometheus.Gatherer) (string, error) {
	families, err := g.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}

	var parts []string
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, namePrefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := formatLabels(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				parts = append(parts, name+labels+" "+formatValue(m.GetCounter().GetValue()))
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				parts = append(parts,
					name+"_count"+labels+" "+strconv.FormatUint(h.GetSampleCount(), 10),
					name+"_sum"+labels+" "+formatValue(h.GetSampleSum()),
				)
			}
		}
	}
	return strings.Join(parts, " "), nil
}

// WriteText writes every family of g in the Prometheus text format
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	labels := make([]string, 0, len(pairs))
	for _, p := range pairs {
		labels = append(labels, p.GetName()+"="+strconv.Quote(p.GetValue()))
	}
	sort.Strings(labels)
	return "{" + strings.Join(labels, ",") + "}"
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
