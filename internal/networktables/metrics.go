package networktables

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	framesReceived       *prometheus.CounterVec
	framesDropped        *prometheus.CounterVec
	writes               *prometheus.CounterVec
	disconnects          *prometheus.CounterVec
	transportOpen        prometheus.Gauge
	applicationConnected prometheus.Gauge
	cachedKeys           prometheus.Gauge
}

// newMetrics creates the collectors and registers them with reg. The
// endpoint label keeps several clients apart on one registry.
func newMetrics(reg prometheus.Registerer, endpoint string) (*Metrics, error) {
	labels := prometheus.Labels{"endpoint": endpoint}
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ntws",
			Subsystem:   "client",
			Name:        "frames_received_total",
			Help:        "Inbound frames applied, by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ntws",
			Subsystem:   "client",
			Name:        "frames_dropped_total",
			Help:        "Inbound frames dropped, by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ntws",
			Subsystem:   "client",
			Name:        "writes_total",
			Help:        "Value writes, by result",
			ConstLabels: labels,
		}, []string{"result"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ntws",
			Subsystem:   "client",
			Name:        "disconnects_total",
			Help:        "Connections lost or attempts failed; each one schedules a reconnect",
			ConstLabels: labels,
		}, []string{"phase"}),
		transportOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ntws",
			Subsystem:   "client",
			Name:        "transport_open",
			Help:        "1 while the websocket is open",
			ConstLabels: labels,
		}),
		applicationConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ntws",
			Subsystem:   "client",
			Name:        "robot_connected",
			Help:        "1 while the server reports the robot as connected",
			ConstLabels: labels,
		}),
		cachedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ntws",
			Subsystem:   "client",
			Name:        "cached_keys",
			Help:        "Number of keys in the local cache",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.framesReceived, m.framesDropped, m.writes, m.disconnects,
		m.transportOpen, m.applicationConnected, m.cachedKeys,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register client metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) frameReceived(kind string) {
	if m != nil {
		m.framesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) frameDropped(reason string) {
	if m != nil {
		m.framesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) write(result string) {
	if m != nil {
		m.writes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) disconnect(wasOpen bool) {
	if m == nil {
		return
	}
	phase := "connecting"
	if wasOpen {
		phase = "open"
	}
	m.disconnects.WithLabelValues(phase).Inc()
}

func (m *Metrics) setState(s ConnectionState) {
	if m == nil {
		return
	}
	m.transportOpen.Set(boolGauge(s.TransportOpen))
	m.applicationConnected.Set(boolGauge(s.ApplicationConnected))
}

func (m *Metrics) setCachedKeys(n int) {
	if m != nil {
		m.cachedKeys.Set(float64(n))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
