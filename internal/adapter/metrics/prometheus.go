package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"devserve/internal/domain"
)

// Path is where the metrics handler is mounted.
const Path = "/__devserver_metrics"

// Prometheus records coordination and live-reload activity on a private
// registry, so several servers in one process do not collide.
type Prometheus struct {
	registry      *prometheus.Registry
	negotiations  *prometheus.CounterVec
	shutdownReqs  *prometheus.CounterVec
	reloads       prometheus.Counter
	reloadClients prometheus.Gauge
}

// NewPrometheus creates the collectors and registers them on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devserve_negotiations_total",
			Help: "Prior-instance negotiations by outcome.",
		}, []string{"outcome"}),
		shutdownReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devserve_shutdown_requests_total",
			Help: "Shutdown requests received by result.",
		}, []string{"result"}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devserve_reload_broadcasts_total",
			Help: "Live-reload broadcasts sent.",
		}),
		reloadClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devserve_livereload_clients",
			Help: "Connected live-reload clients.",
		}),
	}
	p.registry.MustRegister(p.negotiations, p.shutdownReqs, p.reloads, p.reloadClients)
	return p
}

// ObserveNegotiation counts a prior-instance negotiation by outcome.
func (p *Prometheus) ObserveNegotiation(o domain.Outcome) {
	p.negotiations.WithLabelValues(o.String()).Inc()
}

// ObserveShutdownRequest counts a received shutdown request as accepted or forbidden.
func (p *Prometheus) ObserveShutdownRequest(accepted bool) {
	result := "forbidden"
	if accepted {
		result = "accepted"
	}
	p.shutdownReqs.WithLabelValues(result).Inc()
}

// ObserveReload counts a live-reload broadcast.
func (p *Prometheus) ObserveReload() {
	p.reloads.Inc()
}

// SetReloadClients sets the connected live-reload client gauge.
func (p *Prometheus) SetReloadClients(n int) {
	p.reloadClients.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for inspection.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}
