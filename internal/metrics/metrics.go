// Package metrics owns the Prometheus registry served on the metrics path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rolzie-7/Bin-map/internal/core/observability"
)

type Config struct {
	Enabled bool
	Path    string
	Version string
}

type Provider struct {
	reg *prometheus.Registry
	cfg Config
}

// Init builds a fresh registry with the runtime collectors and, when enabled,
// the service collectors from observability.
func Init(cfg Config) *Provider {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observability.Init(reg, cfg.Enabled)
	observability.ExposeBuildInfo(cfg.Version)
	return &Provider{reg: reg, cfg: cfg}
}

func (p *Provider) Path() string { return p.cfg.Path }

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
