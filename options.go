package isamgo

import (
	"github.com/hupe1980/isamgo/linear"
	"github.com/hupe1980/isamgo/ordering"
)

// Optimizer selects how the delta is refreshed after refactorization.
type Optimizer int

const (
	// GaussNewton takes the full Newton step, propagated lazily through
	// the tree. Fast, but can overshoot on strongly nonlinear problems.
	GaussNewton Optimizer = iota
	// Dogleg blends the Newton step with steepest descent inside an
	// adaptive trust region.
	Dogleg
)

type options struct {
	relinearizeThreshold float64
	thresholdMap         map[byte]float64
	relinearizeSkip      int
	wildfirePropagation  bool
	method               linear.Method
	optimizer            Optimizer
	wildfireThreshold    float64
	doglegRadius         float64
	strategy             ordering.Strategy
	workers              int
	logger               *Logger
	metricsCollector     MetricsCollector
}

// Option configures smoother construction.
type Option func(*options)

func defaultOptions() options {
	return options{
		relinearizeThreshold: 0.1,
		relinearizeSkip:      10,
		wildfirePropagation:  true,
		method:               linear.Cholesky,
		optimizer:            GaussNewton,
		wildfireThreshold:    1e-3,
		doglegRadius:         1.0,
		strategy:             ordering.MinDegree{},
		logger:               NoopLogger(),
		metricsCollector:     NoopMetricsCollector{},
	}
}

// WithRelinearizeThreshold sets the delta magnitude above which a variable's
// linearization point is refreshed. Applies to every variable unless
// overridden by WithRelinearizeThresholdMap.
func WithRelinearizeThreshold(threshold float64) Option {
	return func(o *options) {
		o.relinearizeThreshold = threshold
	}
}

// WithRelinearizeThresholdMap sets per-kind relinearization thresholds keyed
// by the symbol character, e.g. 'x' for poses and 'l' for landmarks. Kinds
// without an entry fall back to the scalar threshold.
func WithRelinearizeThresholdMap(m map[byte]float64) Option {
	return func(o *options) {
		o.thresholdMap = m
	}
}

// WithRelinearizeEvery makes the relinearization check run only on every
// k-th update. k <= 0 disables relinearization entirely, freezing all
// linearization points.
func WithRelinearizeEvery(k int) Option {
	return func(o *options) {
		o.relinearizeSkip = k
	}
}

// WithWildfirePropagation controls whether relinearization spreads from the
// over-threshold variables to every clique they touch, closing the set under
// clique membership. On by default; turning it off folds only the variables
// that actually crossed their threshold, trading accuracy of the refreshed
// linearization for smaller re-eliminations.
func WithWildfirePropagation(enabled bool) Option {
	return func(o *options) {
		o.wildfirePropagation = enabled
	}
}

// WithEliminationMethod selects the factorization backend. Cholesky is the
// default; QR is slower but numerically more forgiving.
func WithEliminationMethod(m linear.Method) Option {
	return func(o *options) {
		o.method = m
	}
}

// WithGaussNewton selects plain Gauss-Newton steps. wildfireThreshold bounds
// the delta change below which back-substitution stops descending.
func WithGaussNewton(wildfireThreshold float64) Option {
	return func(o *options) {
		o.optimizer = GaussNewton
		o.wildfireThreshold = wildfireThreshold
	}
}

// WithDogleg selects dogleg trust-region steps with the given initial
// radius.
func WithDogleg(initialRadius float64) Option {
	return func(o *options) {
		o.optimizer = Dogleg
		o.doglegRadius = initialRadius
	}
}

// WithOrderingStrategy overrides the variable ordering heuristic used when
// refactorizing the affected region.
func WithOrderingStrategy(s ordering.Strategy) Option {
	return func(o *options) {
		if s != nil {
			o.strategy = s
		}
	}
}

// WithLinearizeWorkers bounds the goroutines used to linearize factors.
// Zero means GOMAXPROCS.
func WithLinearizeWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithLogger configures structured logging. Pass nil to disable.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector == nil {
			collector = NoopMetricsCollector{}
		}
		o.metricsCollector = collector
	}
}
