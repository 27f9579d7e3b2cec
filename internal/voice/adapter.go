package voice

import (
	"context"

	"github.com/MrWong99/hrvoice/internal/observe"
)

// adapterOptions holds the knobs shared by the four stage adapters. Each
// adapter reads the fields relevant to it and ignores the rest.
type adapterOptions struct {
	name     string
	metrics  *observe.Metrics
	tone     ToneDetector
	language string
	model    string
	format   string
}

// AdapterOption configures a stage adapter.
type AdapterOption func(*adapterOptions)

// WithProviderName labels provider metrics and logs. Default: "default".
func WithProviderName(name string) AdapterOption {
	return func(o *adapterOptions) { o.name = name }
}

// WithAdapterMetrics records provider request and error counters.
func WithAdapterMetrics(m *observe.Metrics) AdapterOption {
	return func(o *adapterOptions) { o.metrics = m }
}

// WithToneDetector replaces the [KeywordToneDetector] of a [SpeechToText].
func WithToneDetector(d ToneDetector) AdapterOption {
	return func(o *adapterOptions) { o.tone = d }
}

// WithLanguage sets the language hint of a [SpeechToText].
func WithLanguage(lang string) AdapterOption {
	return func(o *adapterOptions) { o.language = lang }
}

// WithSpeechModel sets the synthesis model of a [TextToSpeech].
// Default: [DefaultSpeechModel].
func WithSpeechModel(model string) AdapterOption {
	return func(o *adapterOptions) { o.model = model }
}

// WithSpeechFormat sets the synthesis output format of a [TextToSpeech].
func WithSpeechFormat(format string) AdapterOption {
	return func(o *adapterOptions) { o.format = format }
}

func newAdapterOptions(opts []AdapterOption) adapterOptions {
	o := adapterOptions{name: "default"}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// record counts one provider call.
func (o *adapterOptions) record(ctx context.Context, kind string, err error) {
	if o.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		o.metrics.RecordProviderError(ctx, o.name, kind)
	}
	o.metrics.RecordProviderRequest(ctx, o.name, kind, status)
}
