// Package command renders channel state and configured templates into the
// line protocol understood by the signal-generator forwarding server:
//
//	<2-digit channel><tag><value>\n
package command

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rjboer/GoSigGen/internal/channel"
)

// MaxChannel is the highest index that fits the two-digit address prefix.
const MaxChannel = 99

var ErrEncoding = errors.New("command encoding error")

func prefix(ch int) (string, error) {
	if ch < 0 || ch > MaxChannel {
		return "", fmt.Errorf("%w: channel %d outside [0,%d]", ErrEncoding, ch, MaxChannel)
	}
	if ch < 10 {
		return "0" + strconv.Itoa(ch), nil
	}
	return strconv.Itoa(ch), nil
}

// EncodeField renders a field update, e.g. "00f100000000\n".
func EncodeField(ch int, f channel.Field, value int64) (string, error) {
	p, err := prefix(ch)
	if err != nil {
		return "", err
	}
	tag := f.Tag()
	if tag == '?' {
		return "", fmt.Errorf("%w: %v", ErrEncoding, f)
	}
	var b strings.Builder
	b.Grow(len(p) + 22)
	b.WriteString(p)
	b.WriteByte(tag)
	b.WriteString(strconv.FormatInt(value, 10))
	b.WriteByte('\n')
	return b.String(), nil
}

// EncodeFragment prefixes a template fragment with the channel address.
func EncodeFragment(ch int, fragment string) (string, error) {
	p, err := prefix(ch)
	if err != nil {
		return "", err
	}
	if err := checkFragment(fragment); err != nil {
		return "", err
	}
	return p + fragment + "\n", nil
}

func checkFragment(fragment string) error {
	if fragment == "" {
		return fmt.Errorf("%w: empty fragment", ErrEncoding)
	}
	for _, r := range fragment {
		if r > unicode.MaxASCII || unicode.IsSpace(r) || unicode.IsControl(r) || r == ',' {
			return fmt.Errorf("%w: fragment %q contains %q", ErrEncoding, fragment, r)
		}
	}
	return nil
}

// ParseTemplate splits a comma-separated fragment list. Blanks and double
// quotes around the whole template or a fragment are stripped, matching how
// hand-written config files tend to quote them.
func ParseTemplate(s string) ([]string, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if err := checkFragment(p); err != nil {
			return nil, fmt.Errorf("fragment %d of %q: %w", i, s, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Plan is a validated set of initializer and supplementary fragments.
type Plan struct {
	Init  []string
	Extra map[int][]string
}

// NewPlan parses the initializer template and the per-channel supplementary
// templates. Supplementary keys must address one of the n configured channels.
func NewPlan(initTemplate string, extra map[int]string, n int) (Plan, error) {
	initFrags, err := ParseTemplate(initTemplate)
	if err != nil {
		return Plan{}, fmt.Errorf("init commands: %w", err)
	}
	plan := Plan{Init: initFrags, Extra: make(map[int][]string, len(extra))}
	for ch, tmpl := range extra {
		if ch < 0 || ch >= n {
			return Plan{}, fmt.Errorf("%w: extra command channel %d not in [0,%d)", channel.ErrChannelRange, ch, n)
		}
		frags, err := ParseTemplate(tmpl)
		if err != nil {
			return Plan{}, fmt.Errorf("extra commands for channel %d: %w", ch, err)
		}
		if len(frags) > 0 {
			plan.Extra[ch] = frags
		}
	}
	return plan, nil
}

// InitLines renders the initializer fragments for one channel.
func (p Plan) InitLines(ch int) ([]string, error) {
	lines := make([]string, 0, len(p.Init))
	for _, frag := range p.Init {
		line, err := EncodeFragment(ch, frag)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// ExtraLines renders every supplementary fragment, ascending by channel and
// in configured order within a channel.
func (p Plan) ExtraLines() ([]string, error) {
	channels := make([]int, 0, len(p.Extra))
	for ch := range p.Extra {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	var lines []string
	for _, ch := range channels {
		for _, frag := range p.Extra[ch] {
			line, err := EncodeFragment(ch, frag)
			if err != nil {
				return nil, err
			}
			lines = append(lines, line)
		}
	}
	return lines, nil
}
