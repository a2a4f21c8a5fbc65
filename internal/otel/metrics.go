package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all fishroom metrics instruments.
type Metrics struct {
	MessagesRouted     metric.Int64Counter
	RouteDuration      metric.Float64Histogram
	CommandsDispatched metric.Int64Counter
	OverflowTriggers   metric.Int64Counter
	APIFanoutDrops     metric.Int64Counter
	RateLimitRejects   metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.MessagesRouted, err = meter.Int64Counter("fishroom.messages.routed",
		metric.WithDescription("Messages the hub routed from one adapter to others"),
	)
	if err != nil {
		return nil, err
	}

	m.RouteDuration, err = meter.Float64Histogram("fishroom.route.duration",
		metric.WithDescription("Time spent routing one message through the hub"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.CommandsDispatched, err = meter.Int64Counter("fishroom.commands.dispatched",
		metric.WithDescription("Command invocations dispatched by the command registry"),
	)
	if err != nil {
		return nil, err
	}

	m.OverflowTriggers, err = meter.Int64Counter("fishroom.overflow.triggers",
		metric.WithDescription("Messages whose content met the text-overflow threshold"),
	)
	if err != nil {
		return nil, err
	}

	m.APIFanoutDrops, err = meter.Int64Counter("fishroom.api.fanout_drops",
		metric.WithDescription("Messages that could not be enqueued to an API client's queue"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("fishroom.ratelimit.rejects",
		metric.WithDescription("Messages rejected by the rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
