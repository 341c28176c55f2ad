package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "creditflow"

// Collector records submission and outbox activity. A nil Collector, or one
// built without a registerer, drops every observation.
type Collector struct {
	submissions   *prometheus.CounterVec
	creditsDebit  prometheus.Counter
	duration      prometheus.Histogram
	outboxPublish *prometheus.CounterVec
	assetStatus   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		return &Collector{}
	}
	c := &Collector{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submissions by outcome code.",
		}, []string{"outcome"}),
		creditsDebit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_debited_total",
			Help:      "Credits consumed by committed submissions.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Time spent handling a submission.",
			Buckets:   prometheus.DefBuckets,
		}),
		outboxPublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox publish attempts by result.",
		}, []string{"result"}),
		assetStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_status_updates_total",
			Help:      "Applied asset status updates by resulting status.",
		}, []string{"status"}),
	}
	reg.MustRegister(c.submissions, c.creditsDebit, c.duration, c.outboxPublish, c.assetStatus)
	return c
}

func (c *Collector) ObserveSubmission(outcome string, credits int64, elapsed time.Duration) {
	if c == nil || c.submissions == nil {
		return
	}
	c.submissions.WithLabelValues(normalizeLabel(outcome)).Inc()
	c.duration.Observe(elapsed.Seconds())
	if credits > 0 {
		c.creditsDebit.Add(float64(credits))
	}
}

func (c *Collector) IncOutbox(result string) {
	if c == nil || c.outboxPublish == nil {
		return
	}
	c.outboxPublish.WithLabelValues(normalizeLabel(result)).Inc()
}

func (c *Collector) IncAssetStatus(status string) {
	if c == nil || c.assetStatus == nil {
		return
	}
	c.assetStatus.WithLabelValues(normalizeLabel(status)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
