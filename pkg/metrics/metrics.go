package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var HistogramBuckets = []float64{
	// --- Fast responses (0 - 500ms) ---
	25, 50, 75, 100, 150, 200, 300, 400, 500,

	// --- Medium responses around 700ms (500ms - 2s) ---
	750, 1000, 1250, 1500, 1750, 2000,

	// --- Slow responses (2s - 15s) ---
	2500, 3000, 4000, 5000, 7500, 10000, 15000,

	// --- Extended range: covers 60000ms+ (15s - 75s) ---
	20000,  // 20s
	30000,  // 30s
	45000,  // 45s
	60000,  // 60s
	75000,  // 75s
	90000,  // 90s
	120000, // 120s
}

// Metric is a definition for the name, description, type, ID, and
// prometheus.Collector type (i.e. CounterVec, Summary, etc) of each metric
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric associates prometheus.Collector based on Metric.Type
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	var metric prometheus.Collector
	switch m.Type {
	case "counter_vec":
		metric = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "counter":
		metric = prometheus.NewCounter(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
		)
	case "gauge_vec":
		metric = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "gauge":
		metric = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
		)
	case "histogram_vec":
		metric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "histogram":
		metric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
				Buckets:   HistogramBuckets,
			},
		)
	case "summary_vec":
		metric = prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "summary":
		metric = prometheus.NewSummary(
			prometheus.SummaryOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
		)
	}
	return metric
}

var MetricsBusinessProcess = &Metric{
	ID:          "bpDur",
	Name:        "bp_dur",
	Description: "process latency in milliseconds",
	Type:        "histogram_vec",
	Args:        []string{"type", "subtype"},
}

var metricsPaymentsCreated = &Metric{
	ID:          "paymentsCreated",
	Name:        "payments_created_total",
	Description: "Payments requested, partitioned by rail.",
	Type:        "counter_vec",
	Args:        []string{"type"},
}

var metricsPaymentsCompleted = &Metric{
	ID:          "paymentsCompleted",
	Name:        "payments_completed_total",
	Description: "Payments transitioned to completed, partitioned by rail.",
	Type:        "counter_vec",
	Args:        []string{"type"},
}

var metricsPaymentsExpired = &Metric{
	ID:          "paymentsExpired",
	Name:        "payments_expired_total",
	Description: "Payments expired by the sweeper.",
	Type:        "counter",
}

var metricsNotifications = &Metric{
	ID:          "notifications",
	Name:        "notifications_total",
	Description: "Inbound payment notifications, partitioned by event type and outcome.",
	Type:        "counter_vec",
	Args:        []string{"event_type", "outcome"},
}

var metricsTrades = &Metric{
	ID:          "trades",
	Name:        "trades_total",
	Description: "Trade orchestration runs, partitioned by outcome and the step that ended them.",
	Type:        "counter_vec",
	Args:        []string{"outcome", "step"},
}

const (
	RefererKey = "X-Referer"

	businessSubsystem = "roleguard"
)

var (
	businessProcess   = NewMetric(MetricsBusinessProcess, businessSubsystem).(*prometheus.HistogramVec)
	paymentsCreated   = NewMetric(metricsPaymentsCreated, businessSubsystem).(*prometheus.CounterVec)
	paymentsCompleted = NewMetric(metricsPaymentsCompleted, businessSubsystem).(*prometheus.CounterVec)
	paymentsExpired   = NewMetric(metricsPaymentsExpired, businessSubsystem).(prometheus.Counter)
	notifications     = NewMetric(metricsNotifications, businessSubsystem).(*prometheus.CounterVec)
	trades            = NewMetric(metricsTrades, businessSubsystem).(*prometheus.CounterVec)
)

func init() {
	prometheus.MustRegister(businessProcess, paymentsCreated, paymentsCompleted, paymentsExpired, notifications, trades)
}

// ObserveProcess records the latency of a business process started at start.
func ObserveProcess(typ, subtype string, start time.Time) {
	businessProcess.WithLabelValues(typ, subtype).Observe(MillisecondsSince(start))
}

func PaymentCreated(paymentType string)   { paymentsCreated.WithLabelValues(paymentType).Inc() }
func PaymentCompleted(paymentType string) { paymentsCompleted.WithLabelValues(paymentType).Inc() }
func PaymentsExpired(n int)               { paymentsExpired.Add(float64(n)) }

func Notification(eventType, outcome string) {
	notifications.WithLabelValues(eventType, outcome).Inc()
}

func Trade(outcome, step string) { trades.WithLabelValues(outcome, step).Inc() }

// MillisecondsSince returns the elapsed time since start in milliseconds.
func MillisecondsSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
