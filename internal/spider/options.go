package spider

import (
	"time"

	"github.com/JakeFAU/webspider/internal/urlcanon"
)

// Options are the per-scan knobs. Zero values mean unbounded where that
// makes sense.
type Options struct {
	MaxDepth    int
	Concurrency int
	Handling    urlcanon.ParamHandling
	ODataAware  bool
	MaxDuration time.Duration
	MaxChildren int
}

// Option overrides a single field of Options.
type Option func(*Options)

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxDepth:    5,
		Concurrency: 2,
		Handling:    urlcanon.UseAll,
	}
}

// WithMaxDepth limits how many links deep the engine follows.
func WithMaxDepth(depth int) Option {
	return func(o *Options) { o.MaxDepth = depth }
}

// WithConcurrency sets the number of parallel fetches.
func WithConcurrency(n int) Option {
	return func(o *Options) { o.Concurrency = n }
}

// WithParamHandling sets the query parameter handling for frontier keys.
func WithParamHandling(h urlcanon.ParamHandling) Option {
	return func(o *Options) { o.Handling = h }
}

// WithODataAware toggles OData key normalization.
func WithODataAware(enabled bool) Option {
	return func(o *Options) { o.ODataAware = enabled }
}

// WithMaxDuration stops the scan after d.
func WithMaxDuration(d time.Duration) Option {
	return func(o *Options) { o.MaxDuration = d }
}

// WithMaxChildren caps the children seeded per node when recursing.
func WithMaxChildren(n int) Option {
	return func(o *Options) { o.MaxChildren = n }
}

func (o Options) apply(opts []Option) Options {
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Canonicalizer returns the frontier key builder for these options.
func (o Options) Canonicalizer() urlcanon.Canonicalizer {
	return urlcanon.Canonicalizer{Handling: o.Handling, ODataAware: o.ODataAware}
}
