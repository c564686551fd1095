package cache

import "github.com/prometheus/client_golang/prometheus"

type cacheOptions struct {
	registerer    prometheus.Registerer
	metricsPrefix string
}

// Option configures a cache at construction time
type Option func(*cacheOptions)

// WithMetrics exposes the cache's statistics as Prometheus metrics under the
// given prefix (e.g. "metagraph_mapping_cache").
func WithMetrics(reg prometheus.Registerer, prefix string) Option {
	return func(o *cacheOptions) {
		o.registerer = reg
		o.metricsPrefix = prefix
	}
}

func applyOptions(opts []Option) *cacheOptions {
	options := &cacheOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
