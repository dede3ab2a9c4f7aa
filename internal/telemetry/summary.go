package telemetry

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/rjboer/GoSigGen/internal/channel"
)

// BurstKind says which kind of burst produced a summary.
type BurstKind string

const (
	FullBurst        BurstKind = "full"
	IncrementalBurst BurstKind = "incremental"
)

// ChannelSummary is one channel's state as of the end of a burst.
type ChannelSummary struct {
	Index          int    `json:"index"`
	FrequencyHz    int64  `json:"frequencyHz"`
	PhaseDeg       int64  `json:"phaseDeg"`
	Amplitude      int64  `json:"amplitude"`
	AmplitudeLabel string `json:"amplitudeLabel"`
	Synced         bool   `json:"synced"`
}

// Spread describes how the channel frequencies are distributed.
type Spread struct {
	MinHz  float64 `json:"minHz"`
	MaxHz  float64 `json:"maxHz"`
	SpanHz float64 `json:"spanHz"`
	MeanHz float64 `json:"meanHz"`
}

// Summary is reported after every cycle that put lines on the wire.
type Summary struct {
	Timestamp time.Time        `json:"timestamp"`
	Session   string           `json:"session"`
	Kind      BurstKind        `json:"kind"`
	LinesSent int              `json:"linesSent"`
	Channels  []ChannelSummary `json:"channels"`
	Spread    Spread           `json:"spread"`
}

// NewSummary builds a Summary from a store snapshot.
func NewSummary(ts time.Time, session string, kind BurstKind, lines int, values []channel.Values) Summary {
	s := Summary{
		Timestamp: ts,
		Session:   session,
		Kind:      kind,
		LinesSent: lines,
		Channels:  make([]ChannelSummary, len(values)),
	}
	freqs := make([]float64, len(values))
	for i, v := range values {
		s.Channels[i] = ChannelSummary{
			Index:          v.Index,
			FrequencyHz:    v.Frequency,
			PhaseDeg:       v.Phase,
			Amplitude:      v.Amplitude,
			AmplitudeLabel: channel.AmplitudeLabel(v.Amplitude),
			Synced:         v.Synced,
		}
		freqs[i] = float64(v.Frequency)
	}
	if len(freqs) > 0 {
		s.Spread = Spread{
			MinHz:  floats.Min(freqs),
			MaxHz:  floats.Max(freqs),
			MeanHz: stat.Mean(freqs, nil),
		}
		s.Spread.SpanHz = s.Spread.MaxHz - s.Spread.MinHz
	}
	return s
}
