package telemetry

import (
	"fmt"
	"strconv"

	"github.com/rjboer/GoSigGen/internal/logging"
)

// Reporter receives burst summaries.
type Reporter interface {
	Report(s Summary)
}

// StdoutReporter prints a human-readable frequency table after each burst.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger.With(logging.F("subsystem", "summary"))}
}

func (r StdoutReporter) Report(s Summary) {
	r.logger.Info("burst summary",
		logging.F("kind", s.Kind),
		logging.F("lines", s.LinesSent),
		logging.F("channels", len(s.Channels)),
		logging.F("span_mhz", formatMHz(s.Spread.SpanHz)),
	)
	for _, ch := range s.Channels {
		r.logger.Info(fmt.Sprintf("channel %02d", ch.Index),
			logging.F("freq_mhz", formatMHz(float64(ch.FrequencyHz))),
			logging.F("phase_deg", ch.PhaseDeg),
			logging.F("amplitude", ch.AmplitudeLabel),
			logging.F("synced", ch.Synced),
		)
	}
}

func formatMHz(hz float64) string {
	return strconv.FormatFloat(hz/1e6, 'f', 6, 64)
}

// MultiReporter fans out summaries to multiple destinations.
type MultiReporter []Reporter

// Report forwards the summary to each configured reporter.
func (m MultiReporter) Report(s Summary) {
	for _, r := range m {
		if r != nil {
			r.Report(s)
		}
	}
}
