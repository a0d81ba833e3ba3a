// Package session owns one TCP connection to one device: the login
// handshake and the strictly sequential request/response cycle every
// command rides on.
//
// A Session is exclusively owned by the caller that opened it. The
// protocol is not multiplexed: one command is in flight at a time, and a
// second concurrent call fails with ErrBusy instead of interleaving
// frames. Any transport or decode failure is terminal for the connection;
// the caller opens a new Session to retry.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tomerfi/switcher/internal/device"
	"github.com/tomerfi/switcher/internal/logging"
	"github.com/tomerfi/switcher/internal/protocol"
	"github.com/tomerfi/switcher/internal/schedule"
)

// State is the connection lifecycle phase of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	LoggingIn
	Ready
	Busy
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case LoggingIn:
		return "logging-in"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var (
	// ErrNotReady indicates a command issued before login completed or
	// after the session left the Ready state.
	ErrNotReady = errors.New("session not ready")

	// ErrBusy indicates a second command attempted while one is in
	// flight. The protocol is strictly sequential.
	ErrBusy = errors.New("session busy")
)

// DefaultTimeout bounds each socket read and write when the caller's
// context carries no earlier deadline.
const DefaultTimeout = 10 * time.Second

// Option adjusts a Session at construction.
type Option func(*Session)

// WithTimeout overrides the per-operation I/O deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// Session wraps one live connection to one device.
type Session struct {
	addr    string
	target  protocol.Target
	timeout time.Duration

	// sem serializes commands; TryLock failure means one is in flight.
	sem chan struct{}

	conn      net.Conn
	state     State
	sessionID uint32
	serial    uint16
}

// New builds a disconnected Session for a device. addr is the device's IP;
// the standard command port is appended unless addr already carries one.
func New(addr string, target protocol.Target, opts ...Option) *Session {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(protocol.CommandPort))
	}
	s := &Session{
		addr:    addr,
		target:  target,
		timeout: DefaultTimeout,
		sem:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial builds a Session and connects it in one step.
func Dial(ctx context.Context, addr string, target protocol.Target, opts ...Option) (*Session, error) {
	s := New(addr, target, opts...)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect establishes the TCP connection and performs the login handshake.
// On success the session id assigned by the device is stored for every
// subsequent frame on this connection.
func (s *Session) Connect(ctx context.Context) error {
	if !s.acquire() {
		return ErrBusy
	}
	defer s.release()

	if s.state != Disconnected {
		return fmt.Errorf("%w: connect from state %v", ErrNotReady, s.state)
	}

	s.state = Connecting
	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		s.state = Failed
		return fmt.Errorf("failed to connect to %s: %w", s.addr, err)
	}
	s.conn = conn
	s.state = LoggingIn

	frame, err := protocol.BuildLogin(s.target, s.timestamp())
	if err != nil {
		s.fail()
		return err
	}
	resp, err := s.roundTrip(ctx, frame)
	if err != nil {
		s.fail()
		return fmt.Errorf("login failed: %w", err)
	}
	login, err := protocol.ParseLoginResponse(resp)
	if err != nil {
		s.fail()
		return fmt.Errorf("login failed: %w", err)
	}

	s.sessionID = login.SessionID
	s.state = Ready
	logging.Debug("session established",
		zap.String("addr", s.addr),
		zap.Uint32("session", s.sessionID))
	return nil
}

// State returns the current lifecycle phase. A session whose command slot
// is held reports Busy without touching its fields.
func (s *Session) State() State {
	if !s.acquire() {
		return Busy
	}
	defer s.release()
	return s.state
}

// Close tears the connection down. Always permitted, idempotent.
func (s *Session) Close() error {
	if !s.acquire() {
		return ErrBusy
	}
	defer s.release()

	if s.conn == nil {
		s.state = Disconnected
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if s.state != Failed {
		s.state = Disconnected
	}
	return err
}

// GetState queries the device's operating state.
func (s *Session) GetState(ctx context.Context) (protocol.StateResponse, error) {
	var state protocol.StateResponse
	err := s.command(ctx, func(serial uint16) ([]byte, error) {
		return protocol.BuildGetState(s.sessionID, serial, s.timestamp(), s.target)
	}, func(resp []byte) error {
		var err error
		state, err = protocol.ParseStateResponse(resp)
		return err
	})
	return state, err
}

// TurnOn switches the device on. A non-zero timer arms the countdown that
// switches it back off after the duration.
func (s *Session) TurnOn(ctx context.Context, timer time.Duration) error {
	return s.ack(ctx, func(serial uint16) ([]byte, error) {
		return protocol.BuildSetState(s.sessionID, serial, s.timestamp(), s.target,
			device.StateOn, timer)
	})
}

// TurnOff switches the device off.
func (s *Session) TurnOff(ctx context.Context) error {
	return s.ack(ctx, func(serial uint16) ([]byte, error) {
		return protocol.BuildSetState(s.sessionID, serial, s.timestamp(), s.target,
			device.StateOff, 0)
	})
}

// SetName renames the device.
func (s *Session) SetName(ctx context.Context, name string) error {
	return s.ack(ctx, func(serial uint16) ([]byte, error) {
		return protocol.BuildSetName(s.sessionID, serial, s.timestamp(), s.target, name)
	})
}

// SetAutoShutdown configures the auto shutdown limit, 1 to 24 hours.
func (s *Session) SetAutoShutdown(ctx context.Context, limit time.Duration) error {
	return s.ack(ctx, func(serial uint16) ([]byte, error) {
		return protocol.BuildSetAutoShutdown(s.sessionID, serial, s.timestamp(), s.target, limit)
	})
}

// GetSchedules reads every stored schedule slot.
func (s *Session) GetSchedules(ctx context.Context) ([]schedule.Schedule, error) {
	var schedules []schedule.Schedule
	err := s.command(ctx, func(serial uint16) ([]byte, error) {
		return protocol.BuildGetSchedules(s.sessionID, serial, s.timestamp(), s.target)
	}, func(resp []byte) error {
		var err error
		schedules, err = protocol.ParseSchedulesResponse(resp)
		return err
	})
	return schedules, err
}

// CreateSchedule stores a schedule in the slot its ID names.
func (s *Session) CreateSchedule(ctx context.Context, sched schedule.Schedule) error {
	return s.ack(ctx, func(serial uint16) ([]byte, error) {
		return protocol.BuildCreateSchedule(s.sessionID, serial, s.timestamp(), s.target, sched)
	})
}

// SetScheduleEnabled flips a schedule's enabled flag in place.
func (s *Session) SetScheduleEnabled(ctx context.Context, sched schedule.Schedule, enabled bool) error {
	sched.Enabled = enabled
	return s.ack(ctx, func(serial uint16) ([]byte, error) {
		return protocol.BuildPatchSchedule(s.sessionID, serial, s.timestamp(), s.target, sched)
	})
}

// DeleteSchedule clears one schedule slot.
func (s *Session) DeleteSchedule(ctx context.Context, id int) error {
	return s.ack(ctx, func(serial uint16) ([]byte, error) {
		return protocol.BuildDeleteSchedule(s.sessionID, serial, s.timestamp(), s.target, id)
	})
}

// SetShutterPosition drives a shutter to a position, 0 to 100.
func (s *Session) SetShutterPosition(ctx context.Context, position int) error {
	return s.ack(ctx, func(serial uint16) ([]byte, error) {
		return protocol.BuildSetShutterPosition(s.sessionID, serial, s.timestamp(), s.target, position)
	})
}

// SendBreezeCommand transmits a resolved infrared code to a thermostat.
func (s *Session) SendBreezeCommand(ctx context.Context, code string) error {
	return s.ack(ctx, func(serial uint16) ([]byte, error) {
		return protocol.BuildBreezeCommand(s.sessionID, serial, s.timestamp(), s.target, code)
	})
}

// ack runs a command whose response carries only a success flag.
func (s *Session) ack(ctx context.Context, build func(uint16) ([]byte, error)) error {
	return s.command(ctx, build, protocol.ParseAckResponse)
}

// command runs one full request/response cycle: build with the current
// serial, send, await the reply, parse. Argument validation failures leave
// the session Ready; transport and decode failures are terminal.
func (s *Session) command(ctx context.Context, build func(uint16) ([]byte, error),
	parse func([]byte) error) error {

	if !s.acquire() {
		return ErrBusy
	}
	defer s.release()

	if s.state != Ready {
		return fmt.Errorf("%w: state %v", ErrNotReady, s.state)
	}

	frame, err := build(s.serial)
	if err != nil {
		return err
	}

	s.state = Busy
	resp, err := s.roundTrip(ctx, frame)
	if err != nil {
		s.fail()
		return err
	}
	if err := parse(resp); err != nil {
		if errors.Is(err, protocol.ErrDeviceRejected) {
			// Structurally valid refusal; the connection is still good.
			s.state = Ready
			return err
		}
		s.fail()
		return err
	}
	s.state = Ready
	return nil
}

// roundTrip writes one frame and reads one reply, both under a deadline.
// The serial counter advances once per frame in each direction.
func (s *Session) roundTrip(ctx context.Context, frame []byte) ([]byte, error) {
	deadline := s.deadline(ctx)

	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to arm write deadline: %w", err)
	}
	logging.LogFrame("send", s.addr, frame)
	if _, err := s.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to send frame: %w", err)
	}
	s.serial++

	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to arm read deadline: %w", err)
	}
	resp, err := protocol.ReadFrame(s.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	logging.LogFrame("recv", s.addr, resp)
	s.serial++
	return resp, nil
}

// fail marks the session terminally Failed and drops the connection.
func (s *Session) fail() {
	s.state = Failed
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// acquire takes the command slot without blocking.
func (s *Session) acquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Session) release() {
	<-s.sem
}

// deadline bounds one I/O operation: the context deadline when it is
// earlier, the session timeout otherwise.
func (s *Session) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(s.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func (s *Session) timestamp() uint32 {
	return uint32(time.Now().Unix())
}
