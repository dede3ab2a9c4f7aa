// Package channel holds the desired and last-transmitted signal state for
// every generator channel and answers "what changed since the last send".
package channel

import (
	"errors"
	"fmt"
	"math"
)

// FrequencyCeilingHz is the highest frequency an ADF4351 generator accepts.
const FrequencyCeilingHz int64 = 4_400_000_000

var (
	ErrChannelRange  = errors.New("channel index out of range")
	ErrUnknownField  = errors.New("unknown signal field")
	ErrValueRejected = errors.New("signal value rejected")
)

// Field names one of the three signal attributes of a channel.
type Field int

const (
	Frequency Field = iota
	Phase
	Amplitude
)

// Fields lists every field in transmission order.
var Fields = [...]Field{Frequency, Phase, Amplitude}

// Tag returns the single-letter wire tag for the field.
func (f Field) Tag() byte {
	switch f {
	case Frequency:
		return 'f'
	case Phase:
		return 'p'
	case Amplitude:
		return 'a'
	default:
		return '?'
	}
}

func (f Field) String() string {
	switch f {
	case Frequency:
		return "frequency"
	case Phase:
		return "phase"
	case Amplitude:
		return "amplitude"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

func (f Field) valid() bool { return f >= Frequency && f <= Amplitude }

var amplitudeLabels = [...]string{"-4dBm", "-1dBm", "+2dBm", "+5dBm"}

// AmplitudeLabel renders an amplitude index as the generator's output power.
func AmplitudeLabel(index int64) string {
	if index < 0 || index >= int64(len(amplitudeLabels)) {
		return "?"
	}
	return amplitudeLabels[index]
}

// Transform is the linear mapping applied to externally supplied
// frequencies: offset + frequency*scaling.
type Transform struct {
	Offset  float64
	Scaling float64
}

// Identity leaves frequencies untouched.
var Identity = Transform{Offset: 0, Scaling: 1}

// Apply returns the transformed frequency rounded to whole Hz. Results
// outside [0, FrequencyCeilingHz] are rejected.
func (t Transform) Apply(frequency float64) (int64, error) {
	v := t.Offset + frequency*t.Scaling
	if math.IsNaN(v) || v < 0 || v > float64(FrequencyCeilingHz) {
		return 0, &ValueRejectedError{Input: frequency, Result: v}
	}
	return int64(math.Round(v)), nil
}

// ValueRejectedError reports a frequency whose transformed value falls
// outside [0, FrequencyCeilingHz].
type ValueRejectedError struct {
	Channel int
	Input   float64
	Result  float64
}

func (e *ValueRejectedError) Error() string {
	return fmt.Sprintf("channel %d: frequency %g transforms to %g Hz, outside [0,%d] Hz",
		e.Channel, e.Input, e.Result, FrequencyCeilingHz)
}

// WholeNumber converts an externally supplied phase or amplitude to int. It
// fails for fractions, NaN, infinities and anything outside the int32 range.
func WholeNumber(v float64) (int, bool) {
	if math.IsNaN(v) || v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}

func (e *ValueRejectedError) Unwrap() error { return ErrValueRejected }

// sent is the last value handed to the transport; ok is false until the
// first transmission.
type sent struct {
	value int64
	ok    bool
}

type slot struct {
	desired [len(Fields)]int64
	sent    [len(Fields)]sent
}

// Values is a read-only copy of one channel's state.
type Values struct {
	Index     int   `json:"index"`
	Frequency int64 `json:"frequency"`
	Phase     int64 `json:"phase"`
	Amplitude int64 `json:"amplitude"`
	// Synced is true when every field has been transmitted at its current value.
	Synced bool `json:"synced"`
}

// Ref addresses a single field on a single channel.
type Ref struct {
	Channel int
	Field   Field
}

// Store is not safe for concurrent use; the sync loop serializes access.
type Store struct {
	transform Transform
	slots     []slot
}

// NewStore creates a store for n channels with every field unset.
func NewStore(n int, t Transform) (*Store, error) {
	if n < 1 {
		return nil, fmt.Errorf("channel store needs at least one channel, got %d", n)
	}
	return &Store{transform: t, slots: make([]slot, n)}, nil
}

// Len reports the configured channel count.
func (s *Store) Len() int { return len(s.slots) }

// Transform returns the frequency transform in effect.
func (s *Store) Transform() Transform { return s.transform }

func (s *Store) slot(ch int) (*slot, error) {
	if ch < 0 || ch >= len(s.slots) {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrChannelRange, ch, len(s.slots))
	}
	return &s.slots[ch], nil
}

// SetSignal applies the frequency transform and updates the desired state of
// a channel. A rejected frequency leaves the channel untouched.
func (s *Store) SetSignal(ch int, frequency float64, phase, amplitude int) error {
	return s.UpdateSignal(ch, frequency, &phase, &amplitude)
}

// UpdateSignal is SetSignal where a nil phase or amplitude keeps the
// channel's current value.
func (s *Store) UpdateSignal(ch int, frequency float64, phase, amplitude *int) error {
	sl, err := s.slot(ch)
	if err != nil {
		return err
	}
	f, err := s.transform.Apply(frequency)
	if err != nil {
		var rej *ValueRejectedError
		if errors.As(err, &rej) {
			rej.Channel = ch
		}
		return err
	}
	sl.desired[Frequency] = f
	if phase != nil {
		sl.desired[Phase] = int64(*phase)
	}
	if amplitude != nil {
		sl.desired[Amplitude] = int64(*amplitude)
	}
	return nil
}

// Diff reports whether the field must be transmitted.
func (s *Store) Diff(ch int, f Field) (bool, error) {
	sl, err := s.slot(ch)
	if err != nil {
		return false, err
	}
	if !f.valid() {
		return false, fmt.Errorf("%w: %d", ErrUnknownField, int(f))
	}
	last := sl.sent[f]
	return !last.ok || last.value != sl.desired[f], nil
}

// Commit records the desired value of the field as transmitted.
func (s *Store) Commit(ch int, f Field) error {
	sl, err := s.slot(ch)
	if err != nil {
		return err
	}
	if !f.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownField, int(f))
	}
	sl.sent[f] = sent{value: sl.desired[f], ok: true}
	return nil
}

// Value returns the desired value of a field.
func (s *Store) Value(ch int, f Field) (int64, error) {
	sl, err := s.slot(ch)
	if err != nil {
		return 0, err
	}
	if !f.valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownField, int(f))
	}
	return sl.desired[f], nil
}

// Channel returns a copy of one channel's state.
func (s *Store) Channel(ch int) (Values, error) {
	sl, err := s.slot(ch)
	if err != nil {
		return Values{}, err
	}
	return sl.values(ch), nil
}

// Snapshot returns a copy of every channel's state in index order.
func (s *Store) Snapshot() []Values {
	out := make([]Values, len(s.slots))
	for i := range s.slots {
		out[i] = s.slots[i].values(i)
	}
	return out
}

// ChangedFields lists every field whose Diff is true, channel-major.
func (s *Store) ChangedFields() []Ref {
	var refs []Ref
	for ch := range s.slots {
		for _, f := range Fields {
			last := s.slots[ch].sent[f]
			if !last.ok || last.value != s.slots[ch].desired[f] {
				refs = append(refs, Ref{Channel: ch, Field: f})
			}
		}
	}
	return refs
}

func (sl *slot) values(index int) Values {
	synced := true
	for _, f := range Fields {
		if !sl.sent[f].ok || sl.sent[f].value != sl.desired[f] {
			synced = false
		}
	}
	return Values{
		Index:     index,
		Frequency: sl.desired[Frequency],
		Phase:     sl.desired[Phase],
		Amplitude: sl.desired[Amplitude],
		Synced:    synced,
	}
}
