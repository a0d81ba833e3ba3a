package session

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/tomerfi/switcher/internal/device"
	"github.com/tomerfi/switcher/internal/protocol"
	"github.com/tomerfi/switcher/internal/schedule"
)

var fakeTarget = protocol.Target{ID: "a1b2c3", Key: "00"}

// fakeDevice emulates one device behind a local TCP listener: it answers
// login, state queries, schedule reads, and acknowledges everything else,
// while recording every request it decodes.
type fakeDevice struct {
	ln        net.Listener
	sessionID uint32

	mu        sync.Mutex
	rejectAll bool
	garble    bool
	stall     chan struct{} // when set, command responses wait for it to close
	state     device.State
	remaining time.Duration
	schedules []schedule.Schedule
	requests  []protocol.Request
}

func (d *fakeDevice) setRejectAll(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejectAll = v
}

func (d *fakeDevice) setGarble(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.garble = v
}

func (d *fakeDevice) setStall(ch chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stall = ch
}

func (d *fakeDevice) setSchedules(schedules []schedule.Schedule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schedules = schedules
}

func startFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	d := &fakeDevice{ln: ln, sessionID: 0xbeef0001}
	t.Cleanup(func() { ln.Close() })
	go d.serve()
	return d
}

func (d *fakeDevice) addr() string { return d.ln.Addr().String() }

func (d *fakeDevice) recorded() []protocol.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.Request, len(d.requests))
	copy(out, d.requests)
	return out
}

func (d *fakeDevice) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

func (d *fakeDevice) handle(conn net.Conn) {
	defer conn.Close()
	for {
		raw, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}
		req, err := protocol.ParseRequest(raw)
		if err != nil {
			return
		}

		d.mu.Lock()
		d.requests = append(d.requests, req)
		stall := d.stall
		d.mu.Unlock()

		if stall != nil && !req.IsLogin() {
			<-stall
		}

		d.mu.Lock()
		resp := d.respond(req)
		d.mu.Unlock()

		if _, err := conn.Write(resp); err != nil {
			return
		}
	}
}

func (d *fakeDevice) respond(req protocol.Request) []byte {
	if d.garble {
		return []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x00, 0x00, 0x00}
	}
	if req.IsLogin() {
		return protocol.BuildLoginResponse(d.sessionID)
	}
	if d.rejectAll {
		return protocol.BuildAckResponse(0x0001)
	}
	if req.IsStateQuery() {
		return protocol.BuildStateResponse(protocol.StateResponse{
			State:         d.state,
			RemainingTime: d.remaining,
		})
	}
	switch req.Opcode {
	case 0x01: // on/off with optional countdown
		if req.Args[0] == 0x01 {
			d.state = device.StateOn
			seconds := binary.LittleEndian.Uint32(req.Args[2:6])
			d.remaining = time.Duration(seconds) * time.Second
		} else {
			d.state = device.StateOff
			d.remaining = 0
		}
	case 0x06: // schedule read
		resp, err := protocol.BuildSchedulesResponse(d.schedules)
		if err != nil {
			return protocol.BuildAckResponse(0xffff)
		}
		return resp
	}
	return protocol.BuildAckResponse(0)
}

func dialFake(t *testing.T, d *fakeDevice) *Session {
	t.Helper()
	s, err := Dial(context.Background(), d.addr(), fakeTarget, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Dial() unexpected error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConnectLogsIn(t *testing.T) {
	d := startFakeDevice(t)
	s := dialFake(t, d)

	if s.State() != Ready {
		t.Errorf("State() = %v, want ready", s.State())
	}
	reqs := d.recorded()
	if len(reqs) != 1 || !reqs[0].IsLogin() {
		t.Fatalf("device saw %d requests, want one login", len(reqs))
	}
	if reqs[0].SessionID != 0 {
		t.Errorf("login session id = %d, want 0", reqs[0].SessionID)
	}
}

func TestCommandsRejectedBeforeLogin(t *testing.T) {
	s := New("127.0.0.1:1", fakeTarget)

	if _, err := s.GetState(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("GetState() error = %v, want %v", err, ErrNotReady)
	}
	if err := s.TurnOn(context.Background(), 0); !errors.Is(err, ErrNotReady) {
		t.Errorf("TurnOn() error = %v, want %v", err, ErrNotReady)
	}
}

func TestEndToEndControlScenario(t *testing.T) {
	d := startFakeDevice(t)
	s := dialFake(t, d)
	ctx := context.Background()

	state, err := s.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() unexpected error: %v", err)
	}
	if state.State != device.StateOff {
		t.Fatalf("initial state = %v, want off", state.State)
	}

	if err := s.TurnOn(ctx, 15*time.Minute); err != nil {
		t.Fatalf("TurnOn() unexpected error: %v", err)
	}
	state, err = s.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() unexpected error: %v", err)
	}
	if state.State != device.StateOn {
		t.Errorf("state after on = %v, want on", state.State)
	}
	if state.RemainingTime != 15*time.Minute {
		t.Errorf("remaining = %v, want 15m", state.RemainingTime)
	}

	if err := s.TurnOff(ctx); err != nil {
		t.Fatalf("TurnOff() unexpected error: %v", err)
	}
	state, err = s.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() unexpected error: %v", err)
	}
	if state.State != device.StateOff || state.RemainingTime != 0 {
		t.Errorf("state after off = %v remaining %v, want off and zero",
			state.State, state.RemainingTime)
	}
}

func TestSerialCountsBothDirections(t *testing.T) {
	d := startFakeDevice(t)
	s := dialFake(t, d)
	ctx := context.Background()

	if _, err := s.GetState(ctx); err != nil {
		t.Fatalf("GetState() unexpected error: %v", err)
	}
	if err := s.TurnOn(ctx, 0); err != nil {
		t.Fatalf("TurnOn() unexpected error: %v", err)
	}
	if err := s.TurnOff(ctx); err != nil {
		t.Fatalf("TurnOff() unexpected error: %v", err)
	}

	reqs := d.recorded()
	if len(reqs) != 4 {
		t.Fatalf("device saw %d requests, want 4", len(reqs))
	}
	// Requests and responses share the counter, so each observed request
	// serial is two past the previous one.
	for i, req := range reqs {
		if want := uint16(2 * i); req.Serial != want {
			t.Errorf("request %d serial = %d, want %d", i, req.Serial, want)
		}
		if i > 0 && req.SessionID != d.sessionID {
			t.Errorf("request %d session id = %#08x, want %#08x",
				i, req.SessionID, d.sessionID)
		}
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	d := startFakeDevice(t)
	d.setSchedules([]schedule.Schedule{
		{
			ID: 0, Enabled: true, Recurring: true,
			Days:  []schedule.Day{schedule.Sunday, schedule.Friday},
			Start: schedule.Clock(13, 0), End: schedule.Clock(14, 0),
		},
	})
	s := dialFake(t, d)
	ctx := context.Background()

	schedules, err := s.GetSchedules(ctx)
	if err != nil {
		t.Fatalf("GetSchedules() unexpected error: %v", err)
	}
	if len(schedules) != 1 {
		t.Fatalf("got %d schedules, want 1", len(schedules))
	}
	if schedules[0].Start != schedule.Clock(13, 0) || len(schedules[0].Days) != 2 {
		t.Errorf("schedule = %+v", schedules[0])
	}

	if err := s.CreateSchedule(ctx, schedules[0]); err != nil {
		t.Errorf("CreateSchedule() unexpected error: %v", err)
	}
	if err := s.SetScheduleEnabled(ctx, schedules[0], false); err != nil {
		t.Errorf("SetScheduleEnabled() unexpected error: %v", err)
	}
	if err := s.DeleteSchedule(ctx, 0); err != nil {
		t.Errorf("DeleteSchedule() unexpected error: %v", err)
	}
}

func TestValidationBoundaries(t *testing.T) {
	d := startFakeDevice(t)
	s := dialFake(t, d)
	ctx := context.Background()

	if err := s.SetAutoShutdown(ctx, 0); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Errorf("SetAutoShutdown(0) error = %v, want %v", err, protocol.ErrInvalidArgument)
	}
	if err := s.SetAutoShutdown(ctx, 25*time.Hour); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Errorf("SetAutoShutdown(25h) error = %v, want %v", err, protocol.ErrInvalidArgument)
	}
	// A rejected argument never reaches the wire and never fails the session.
	if s.State() != Ready {
		t.Fatalf("State() = %v after argument errors, want ready", s.State())
	}
	if err := s.SetAutoShutdown(ctx, time.Hour); err != nil {
		t.Errorf("SetAutoShutdown(1h) unexpected error: %v", err)
	}
	if err := s.SetAutoShutdown(ctx, 24*time.Hour); err != nil {
		t.Errorf("SetAutoShutdown(24h) unexpected error: %v", err)
	}
}

func TestConcurrentCommandFailsBusy(t *testing.T) {
	d := startFakeDevice(t)
	s := dialFake(t, d)

	release := make(chan struct{})
	d.setStall(release)

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.GetState(context.Background())
		firstDone <- err
	}()

	// Wait for the first command to reach the device, where it stalls.
	deadline := time.Now().Add(2 * time.Second)
	for len(d.recorded()) < 2 { // login plus the state query
		if time.Now().After(deadline) {
			t.Fatal("first command never reached the device")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// One command in flight; a second must fail instead of interleaving.
	if err := s.TurnOn(context.Background(), 0); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent TurnOn() error = %v, want %v", err, ErrBusy)
	}
	if got := s.State(); got != Busy {
		t.Errorf("State() = %v with a command in flight, want busy", got)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("stalled GetState() unexpected error: %v", err)
	}
	if s.State() != Ready {
		t.Errorf("State() = %v after the command drained, want ready", s.State())
	}
	if err := s.TurnOn(context.Background(), 0); err != nil {
		t.Errorf("TurnOn() after drain unexpected error: %v", err)
	}
}

func TestDeviceRejectionKeepsSessionAlive(t *testing.T) {
	d := startFakeDevice(t)
	s := dialFake(t, d)
	d.setRejectAll(true)

	err := s.TurnOn(context.Background(), 0)
	if !errors.Is(err, protocol.ErrDeviceRejected) {
		t.Fatalf("TurnOn() error = %v, want %v", err, protocol.ErrDeviceRejected)
	}
	if s.State() != Ready {
		t.Errorf("State() = %v after rejection, want ready", s.State())
	}

	d.setRejectAll(false)
	if err := s.TurnOn(context.Background(), 0); err != nil {
		t.Errorf("TurnOn() after recovery unexpected error: %v", err)
	}
}

func TestGarbledResponseFailsSession(t *testing.T) {
	d := startFakeDevice(t)
	s := dialFake(t, d)
	d.setGarble(true)

	if _, err := s.GetState(context.Background()); err == nil {
		t.Fatal("GetState() = nil error on a garbled response")
	}
	if s.State() != Failed {
		t.Errorf("State() = %v, want failed", s.State())
	}
	// A failed session stays failed.
	if err := s.TurnOn(context.Background(), 0); !errors.Is(err, ErrNotReady) {
		t.Errorf("TurnOn() on failed session error = %v, want %v", err, ErrNotReady)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	d := startFakeDevice(t)
	s := dialFake(t, d)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() unexpected error: %v", err)
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
	if _, err := s.GetState(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("GetState() after close error = %v, want %v", err, ErrNotReady)
	}
}

func TestLoginRejectionFailsConnect(t *testing.T) {
	d := startFakeDevice(t)
	d.setGarble(true)

	s := New(d.addr(), fakeTarget, WithTimeout(2*time.Second))
	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("Connect() = nil error on a garbled login response")
	}
	if s.State() != Failed {
		t.Errorf("State() = %v, want failed", s.State())
	}
}
