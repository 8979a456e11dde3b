package t30

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics экспортирует Prometheus метрики факсимильных сессий.
//
// Все метрики регистрируются в переданном Registerer, что позволяет
// изолировать метрики в тестах и не зависеть от глобального реестра.
type Metrics struct {
	// SessionsActive текущее количество активных сессий
	SessionsActive prometheus.Gauge

	// SessionsTotal счетчик завершенных сессий по результату
	SessionsTotal *prometheus.CounterVec

	// PagesTotal счетчик подтвержденных страниц
	PagesTotal prometheus.Counter

	// RetrainsTotal счетчик повторных тренировок
	RetrainsTotal prometheus.Counter

	// ECMRetransmitsTotal счетчик повторно переданных строк ECM
	ECMRetransmitsTotal prometheus.Counter

	// SessionDuration гистограмма длительности сессий
	SessionDuration prometheus.Histogram
}

// NewMetrics создает и регистрирует метрики в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fax",
			Subsystem: "t30",
			Name:      "sessions_active",
			Help:      "Текущее количество активных факсимильных сессий",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fax",
			Subsystem: "t30",
			Name:      "sessions_total",
			Help:      "Общее количество завершенных сессий по результату",
		}, []string{"result"}),
		PagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fax",
			Subsystem: "t30",
			Name:      "pages_total",
			Help:      "Общее количество подтвержденных страниц",
		}),
		RetrainsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fax",
			Subsystem: "t30",
			Name:      "retrains_total",
			Help:      "Общее количество повторных тренировок модема",
		}),
		ECMRetransmitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fax",
			Subsystem: "t30",
			Name:      "ecm_retransmits_total",
			Help:      "Общее количество повторно переданных строк ECM",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fax",
			Subsystem: "t30",
			Name:      "session_duration_seconds",
			Help:      "Длительность факсимильных сессий",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

// observeResult учитывает завершение сессии.
func (m *Metrics) observeResult(result *SessionResult) {
	if m == nil {
		return
	}
	label := "ok"
	if result.Err != nil {
		label = result.Err.Code.String()
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(label).Inc()
	m.PagesTotal.Add(float64(result.PagesConfirmed))
	m.RetrainsTotal.Add(float64(result.Stats.Retrains))
	m.ECMRetransmitsTotal.Add(float64(result.Stats.ECMRetransmits))
	m.SessionDuration.Observe(result.Stats.Duration.Seconds())
}

// observeStart учитывает запуск сессии.
func (m *Metrics) observeStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}
