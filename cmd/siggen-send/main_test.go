package main

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rjboer/GoSigGen/internal/channel"
	"github.com/rjboer/GoSigGen/internal/command"
)

func TestBuildLines(t *testing.T) {
	lines, err := buildLines(12, 2.5e9, 90, 3, "e, s0")
	if err != nil {
		t.Fatalf("buildLines: %v", err)
	}
	want := []string{"12f2500000000\n", "12p90\n", "12a3\n", "12e\n", "12s0\n"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("got %q want %q", lines, want)
	}
}

func TestBuildLinesRejects(t *testing.T) {
	if _, err := buildLines(100, 1e6, 0, 0, ""); !errors.Is(err, channel.ErrChannelRange) {
		t.Fatalf("expected ErrChannelRange, got %v", err)
	}
	if _, err := buildLines(0, 5e9, 0, 0, ""); !errors.Is(err, channel.ErrValueRejected) {
		t.Fatalf("expected ErrValueRejected, got %v", err)
	}
	if _, err := buildLines(0, 1e6, 0, 0, "e,,s0"); !errors.Is(err, command.ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
}
