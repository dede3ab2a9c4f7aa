package command

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rjboer/GoSigGen/internal/channel"
)

func TestEncodeField(t *testing.T) {
	cases := []struct {
		ch    int
		field channel.Field
		value int64
		want  string
	}{
		{0, channel.Frequency, 100_000_000, "00f100000000\n"},
		{7, channel.Phase, 180, "07p180\n"},
		{15, channel.Amplitude, 3, "15a3\n"},
		{2, channel.Frequency, 4_400_000_000, "02f4400000000\n"},
	}
	for _, tc := range cases {
		got, err := EncodeField(tc.ch, tc.field, tc.value)
		if err != nil {
			t.Fatalf("EncodeField(%d,%v,%d): %v", tc.ch, tc.field, tc.value, err)
		}
		if got != tc.want {
			t.Fatalf("EncodeField(%d,%v,%d) = %q, want %q", tc.ch, tc.field, tc.value, got, tc.want)
		}
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	if _, err := EncodeField(100, channel.Frequency, 1); !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding for 3-digit channel, got %v", err)
	}
	if _, err := EncodeField(-1, channel.Phase, 1); !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding for negative channel, got %v", err)
	}
	if _, err := EncodeField(0, channel.Field(7), 1); !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding for unknown field, got %v", err)
	}
	if _, err := EncodeFragment(0, "s 0"); !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding for fragment with space, got %v", err)
	}
	if _, err := EncodeFragment(0, "e\n"); !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding for fragment with newline, got %v", err)
	}
}

func TestParseTemplate(t *testing.T) {
	got, err := ParseTemplate(`"e, s0 ,j100"`)
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	if want := []string{"e", "s0", "j100"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseTemplate = %v, want %v", got, want)
	}

	empty, err := ParseTemplate("  ")
	if err != nil || len(empty) != 0 {
		t.Fatalf("blank template should parse to nothing, got %v, %v", empty, err)
	}

	for _, bad := range []string{"e,,s0", "e,s0,", "e,s 0"} {
		if _, err := ParseTemplate(bad); !errors.Is(err, ErrEncoding) {
			t.Fatalf("ParseTemplate(%q): expected ErrEncoding, got %v", bad, err)
		}
	}
}

func TestPlanLines(t *testing.T) {
	plan, err := NewPlan("e,s0", map[int]string{2: "g10", 0: "x4,w20"}, 3)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	initLines, err := plan.InitLines(1)
	if err != nil {
		t.Fatalf("InitLines: %v", err)
	}
	if want := []string{"01e\n", "01s0\n"}; !reflect.DeepEqual(initLines, want) {
		t.Fatalf("InitLines = %q, want %q", initLines, want)
	}
	extra, err := plan.ExtraLines()
	if err != nil {
		t.Fatalf("ExtraLines: %v", err)
	}
	if want := []string{"00x4\n", "00w20\n", "02g10\n"}; !reflect.DeepEqual(extra, want) {
		t.Fatalf("ExtraLines = %q, want %q", extra, want)
	}
}

func TestNewPlanRejectsOutOfRangeExtra(t *testing.T) {
	if _, err := NewPlan("e", map[int]string{3: "g1"}, 3); !errors.Is(err, channel.ErrChannelRange) {
		t.Fatalf("expected ErrChannelRange, got %v", err)
	}
	if _, err := NewPlan("e,", nil, 3); !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
}
