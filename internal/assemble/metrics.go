package assemble

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type runMetrics struct {
	podcastsCompleted metric.Int64Counter
	podcastsFailed    metric.Int64Counter
	segmentsRendered  metric.Int64Counter
	segmentsDegraded  metric.Int64Counter
}

func newRunMetrics() (*runMetrics, error) {
	meter := otel.Meter("papercast/assemble")

	completed, err := meter.Int64Counter("papercast.podcasts.completed",
		metric.WithDescription("Podcasts assembled end to end"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("papercast.podcasts.failed",
		metric.WithDescription("Podcast runs that ended in failure"))
	if err != nil {
		return nil, err
	}
	rendered, err := meter.Int64Counter("papercast.segments.rendered",
		metric.WithDescription("Audio segments synthesized successfully"))
	if err != nil {
		return nil, err
	}
	degraded, err := meter.Int64Counter("papercast.segments.degraded",
		metric.WithDescription("Segments replaced with silence after failures"))
	if err != nil {
		return nil, err
	}

	return &runMetrics{
		podcastsCompleted: completed,
		podcastsFailed:    failed,
		segmentsRendered:  rendered,
		segmentsDegraded:  degraded,
	}, nil
}

func (m *runMetrics) completed(ctx context.Context, segments, degraded int) {
	m.podcastsCompleted.Add(ctx, 1)
	m.segmentsRendered.Add(ctx, int64(segments-degraded))
	m.segmentsDegraded.Add(ctx, int64(degraded))
}

func (m *runMetrics) failed(ctx context.Context) {
	m.podcastsFailed.Add(ctx, 1)
}
