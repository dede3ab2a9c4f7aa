// Package osccontrol accepts signal updates as OSC messages over UDP.
//
//	/siggen/signal    ch freq phase amp
//	/siggen/frequency ch freq          (phase and amplitude are kept)
package osccontrol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hypebeast/go-osc/osc"

	"github.com/rjboer/GoSigGen/internal/channel"
	"github.com/rjboer/GoSigGen/internal/logging"
	"github.com/rjboer/GoSigGen/internal/telemetry"
)

const (
	SignalAddress    = "/siggen/signal"
	FrequencyAddress = "/siggen/frequency"
)

// ErrBadMessage covers wrong arity and argument types.
var ErrBadMessage = errors.New("malformed OSC message")

// Server dispatches OSC messages to a controller.
type Server struct {
	ctrl       telemetry.Controller
	logger     logging.Logger
	dispatcher *osc.StandardDispatcher
}

// New registers the message handlers.
func New(ctrl telemetry.Controller, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Server{
		ctrl:       ctrl,
		logger:     logger.With(logging.F("subsystem", "osc")),
		dispatcher: osc.NewStandardDispatcher(),
	}
	if err := s.dispatcher.AddMsgHandler(SignalAddress, s.handle(s.applySignal)); err != nil {
		return nil, err
	}
	if err := s.dispatcher.AddMsgHandler(FrequencyAddress, s.handle(s.applyFrequency)); err != nil {
		return nil, err
	}
	return s, nil
}

// Dispatch routes one packet as if it had arrived on the socket.
func (s *Server) Dispatch(p osc.Packet) {
	s.dispatcher.Dispatch(p)
}

// ListenAndServe serves UDP on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("osc listen %s: %w", addr, err)
	}
	return s.Serve(ctx, conn)
}

// Serve reads packets from conn until ctx is canceled; conn is closed on
// return.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	srv := &osc.Server{Dispatcher: s.dispatcher}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = conn.Close()
	}()

	s.logger.Info("OSC control listening", logging.F("addr", conn.LocalAddr().String()))
	err := srv.Serve(conn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) handle(apply func(args []interface{}) error) osc.HandlerFunc {
	return func(msg *osc.Message) {
		if err := apply(msg.Arguments); err != nil {
			s.logger.Warn("OSC message dropped",
				logging.F("address", msg.Address),
				logging.F("args", len(msg.Arguments)),
				logging.Err(err),
			)
		}
	}
}

func (s *Server) applySignal(args []interface{}) error {
	if len(args) != 4 {
		return fmt.Errorf("%w: %s wants 4 arguments, got %d", ErrBadMessage, SignalAddress, len(args))
	}
	ch, err := intArg(args, 0)
	if err != nil {
		return err
	}
	freq, err := floatArg(args, 1)
	if err != nil {
		return err
	}
	phase, err := intArg(args, 2)
	if err != nil {
		return err
	}
	amp, err := intArg(args, 3)
	if err != nil {
		return err
	}
	return s.ctrl.SetSignal(ch, freq, phase, amp)
}

func (s *Server) applyFrequency(args []interface{}) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: %s wants 2 arguments, got %d", ErrBadMessage, FrequencyAddress, len(args))
	}
	ch, err := intArg(args, 0)
	if err != nil {
		return err
	}
	freq, err := floatArg(args, 1)
	if err != nil {
		return err
	}
	return s.ctrl.UpdateSignal(ch, freq, nil, nil)
}

func floatArg(args []interface{}, i int) (float64, error) {
	var v float64
	switch a := args[i].(type) {
	case int32:
		v = float64(a)
	case int64:
		v = float64(a)
	case float32:
		v = float64(a)
	case float64:
		v = a
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: argument %d %q is not a number", ErrBadMessage, i, a)
		}
		v = parsed
	default:
		return 0, fmt.Errorf("%w: argument %d has type %T", ErrBadMessage, i, a)
	}
	return v, nil
}

func intArg(args []interface{}, i int) (int, error) {
	v, err := floatArg(args, i)
	if err != nil {
		return 0, err
	}
	n, ok := channel.WholeNumber(v)
	if !ok {
		return 0, fmt.Errorf("%w: argument %d (%v) is not a 32-bit integer", ErrBadMessage, i, v)
	}
	return n, nil
}
