package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rjboer/GoSigGen/internal/channel"
	"github.com/rjboer/GoSigGen/internal/command"
	"github.com/rjboer/GoSigGen/internal/connectionmgr"
	"github.com/rjboer/GoSigGen/internal/logging"
)

// siggen-send pushes one channel's signal, plus optional raw fragments, to the
// forwarding server once and exits. It is meant for bench checks.
func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "Forwarding server host:port")
	timeout := flag.Duration("timeout", 5*time.Second, "Connect and write timeout")
	ch := flag.Int("ch", 0, "Channel index")
	freq := flag.Float64("freq", 100e6, "Frequency in Hz")
	phase := flag.Int("phase", 0, "Phase")
	amp := flag.Int("amp", 0, "Amplitude index (0..3)")
	raw := flag.String("raw", "", "Extra comma-separated fragments sent after the signal, e.g. \"e,s0\"")
	flag.Parse()

	logger := logging.New(logging.Debug, logging.Text, os.Stderr)

	lines, err := buildLines(*ch, *freq, *phase, *amp, *raw)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	log.Printf("[STEP 1] Connecting to %s...", *addr)
	m := connectionmgr.New(*addr)
	m.ConnectTimeout = *timeout
	m.WriteTimeout = *timeout
	m.Logger = logger
	if err := m.Connect(context.Background()); err != nil {
		log.Fatalf("[FATAL] Connect failed: %v", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Printf("[WARN] Close error: %v", err)
		}
	}()

	log.Printf("[STEP 2] Sending %d line(s)...", len(lines))
	for _, line := range lines {
		if err := m.Send(line); err != nil {
			log.Fatalf("[FATAL] Send %q failed: %v", strings.TrimSpace(line), err)
		}
		log.Printf("[INFO] sent %q", strings.TrimSpace(line))
	}
	log.Println("[DONE]")
}

// buildLines applies the ceiling check and encoding the sync loop uses.
func buildLines(ch int, freq float64, phase, amp int, raw string) ([]string, error) {
	if ch < 0 || ch > command.MaxChannel {
		return nil, fmt.Errorf("%w: %d", channel.ErrChannelRange, ch)
	}
	v, err := channel.Identity.Apply(freq)
	if err != nil {
		return nil, err
	}

	values := map[channel.Field]int64{
		channel.Frequency: v,
		channel.Phase:     int64(phase),
		channel.Amplitude: int64(amp),
	}
	var lines []string
	for _, f := range channel.Fields {
		line, err := command.EncodeField(ch, f, values[f])
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	if strings.TrimSpace(raw) == "" {
		return lines, nil
	}
	frags, err := command.ParseTemplate(raw)
	if err != nil {
		return nil, err
	}
	for _, frag := range frags {
		line, err := command.EncodeFragment(ch, frag)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}
