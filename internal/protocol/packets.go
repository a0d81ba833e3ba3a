package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tomerfi/switcher/internal/device"
	"github.com/tomerfi/switcher/internal/schedule"
)

// Command opcodes, stored at the head of the command section.
const (
	opSetState        = 0x01
	opCreateSchedule  = 0x03
	opSetAutoShutdown = 0x04
	opGetSchedules    = 0x06
	opPatchSchedule   = 0x07
	opDeleteSchedule  = 0x08
	opBreezeCommand   = 0x35
	opSetShutter      = 0x37
)

// Argument limits enforced before a frame is built.
const (
	MinAutoShutdown = 1 * time.Hour
	MaxAutoShutdown = 24 * time.Hour

	MinNameLength = 2
	MaxNameLength = 32

	MaxShutterPosition = 100
)

// ErrInvalidArgument indicates a command argument outside the range the
// device accepts. The frame is never built, nothing reaches the wire.
var ErrInvalidArgument = errors.New("invalid argument")

// Target identifies the device a command frame is addressed to.
type Target struct {
	// ID is the three-byte device identifier as a six-char hex string.
	ID string

	// Key is the device login key as a hex string, at most eight chars.
	Key string
}

func (t Target) idBytes() ([]byte, error) {
	raw, err := hex.DecodeString(t.ID)
	if err != nil || len(raw) != 3 {
		return nil, fmt.Errorf("%w: device id %q", ErrInvalidArgument, t.ID)
	}
	return raw, nil
}

func (t Target) keyBytes() ([]byte, error) {
	raw, err := hex.DecodeString(t.Key)
	if err != nil || len(raw) == 0 || len(raw) > 4 {
		return nil, fmt.Errorf("%w: device key %q", ErrInvalidArgument, t.Key)
	}
	key := make([]byte, 4)
	copy(key, raw)
	return key, nil
}

// stampIdentity writes the device identity fields into a request header.
func stampIdentity(h []byte, target Target) error {
	id, err := target.idBytes()
	if err != nil {
		return err
	}
	key, err := target.keyBytes()
	if err != nil {
		return err
	}
	copy(h[offDeviceID:offDeviceID+3], id)
	copy(h[offDeviceKey:offDeviceKey+4], key)
	return nil
}

// appendSection appends one command section: opcode, argument length
// (little-endian), arguments.
func appendSection(frame []byte, opcode byte, args []byte) []byte {
	frame = append(frame, opcode)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(len(args)))
	return append(frame, args...)
}

// Request is a decoded command frame as the device sees it. ParseRequest
// keeps the builders honest (every request must round-trip) and drives the
// device emulations the session tests run against.
type Request struct {
	Kind      uint16
	SessionID uint32
	Serial    uint16
	Timestamp uint32
	Target    Target

	// Opcode and Args carry the command section. A rename request has no
	// opcode; its zero-padded name field lands in Args whole. Both are
	// empty for login and state queries.
	Opcode byte
	Args   []byte
}

// IsLogin reports whether the request opens a session.
func (r Request) IsLogin() bool { return r.Kind == kindLogin }

// IsStateQuery reports whether the request asks for the device state.
func (r Request) IsStateQuery() bool { return r.Kind == kindState }

// IsRename reports whether the request renames the device.
func (r Request) IsRename() bool { return r.Kind == kindRename }

// ParseRequest decodes a signed request frame.
func ParseRequest(raw []byte) (Request, error) {
	frame, err := Decode(raw)
	if err != nil {
		return Request{}, err
	}
	if len(frame) < headerSize+trailerSize {
		return Request{}, fmt.Errorf("%w: %d byte request", ErrMalformed, len(frame))
	}

	req := Request{
		Kind:      binary.LittleEndian.Uint16(frame[offKind : offKind+2]),
		SessionID: binary.LittleEndian.Uint32(frame[offSession : offSession+4]),
		Serial:    binary.LittleEndian.Uint16(frame[offSerial : offSerial+2]),
		Timestamp: binary.LittleEndian.Uint32(frame[offTimestamp : offTimestamp+4]),
		Target: Target{
			ID:  hex.EncodeToString(frame[offDeviceID : offDeviceID+3]),
			Key: hex.EncodeToString(frame[offDeviceKey : offDeviceKey+4]),
		},
	}

	section := frame[offPayload : len(frame)-trailerSize]
	switch req.Kind {
	case kindLogin, kindState:
		if len(section) != 0 {
			return Request{}, fmt.Errorf("%w: unexpected command section", ErrMalformed)
		}
	case kindRename:
		if len(section) != MaxNameLength {
			return Request{}, fmt.Errorf("%w: rename field of %d bytes", ErrMalformed, len(section))
		}
		req.Args = section
	case kindCommand:
		if len(section) < 3 {
			return Request{}, fmt.Errorf("%w: short command section", ErrMalformed)
		}
		req.Opcode = section[0]
		argLen := int(binary.LittleEndian.Uint16(section[1:3]))
		if argLen != len(section)-3 {
			return Request{}, fmt.Errorf("%w: argument length %d with %d bytes present",
				ErrMalformed, argLen, len(section)-3)
		}
		req.Args = section[3:]
	default:
		return Request{}, fmt.Errorf("%w: unknown packet kind %#04x", ErrMalformed, req.Kind)
	}
	return req, nil
}

// BuildLogin builds the signed login request opening a session. The device
// identity travels in the key field; the session id is zero until the
// device assigns one.
func BuildLogin(target Target, timestamp uint32) ([]byte, error) {
	h := newHeader(kindLogin, 0, 0, timestamp)
	key, err := target.keyBytes()
	if err != nil {
		return nil, err
	}
	copy(h[offDeviceKey:offDeviceKey+4], key)
	return Sign(h), nil
}

// BuildGetState builds the signed state query request.
func BuildGetState(sessionID uint32, serial uint16, timestamp uint32, target Target) ([]byte, error) {
	h := newHeader(kindState, sessionID, serial, timestamp)
	if err := stampIdentity(h, target); err != nil {
		return nil, err
	}
	return Sign(h), nil
}

// BuildSetState builds the signed on/off command. A non-zero timer arms the
// device's countdown: it turns on now and back off after the duration.
// Timers ride only on the on command; the off command carries zero.
func BuildSetState(sessionID uint32, serial uint16, timestamp uint32, target Target,
	state device.State, timer time.Duration) ([]byte, error) {

	if timer < 0 {
		return nil, fmt.Errorf("%w: negative timer %v", ErrInvalidArgument, timer)
	}
	if state == device.StateOff && timer != 0 {
		return nil, fmt.Errorf("%w: timer on an off command", ErrInvalidArgument)
	}

	h := newHeader(kindCommand, sessionID, serial, timestamp)
	if err := stampIdentity(h, target); err != nil {
		return nil, err
	}

	args := make([]byte, 6)
	if state == device.StateOn {
		args[0] = 0x01
	}
	binary.LittleEndian.PutUint32(args[2:6], uint32(timer/time.Second))
	return Sign(appendSection(h, opSetState, args)), nil
}

// BuildSetAutoShutdown builds the signed command configuring the device's
// auto shutdown limit. The device accepts 1 to 24 hours inclusive.
func BuildSetAutoShutdown(sessionID uint32, serial uint16, timestamp uint32, target Target,
	limit time.Duration) ([]byte, error) {

	if limit < MinAutoShutdown || limit > MaxAutoShutdown {
		return nil, fmt.Errorf("%w: auto shutdown %v outside %v-%v",
			ErrInvalidArgument, limit, MinAutoShutdown, MaxAutoShutdown)
	}

	h := newHeader(kindCommand, sessionID, serial, timestamp)
	if err := stampIdentity(h, target); err != nil {
		return nil, err
	}

	args := make([]byte, 4)
	binary.LittleEndian.PutUint32(args, uint32(limit/time.Second))
	return Sign(appendSection(h, opSetAutoShutdown, args)), nil
}

// BuildSetName builds the signed rename command. Names are stored as a
// fixed 32-byte field, zero padded.
func BuildSetName(sessionID uint32, serial uint16, timestamp uint32, target Target,
	name string) ([]byte, error) {

	if len(name) < MinNameLength || len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: name length %d outside %d-%d",
			ErrInvalidArgument, len(name), MinNameLength, MaxNameLength)
	}

	h := newHeader(kindRename, sessionID, serial, timestamp)
	if err := stampIdentity(h, target); err != nil {
		return nil, err
	}

	field := make([]byte, MaxNameLength)
	copy(field, name)
	return Sign(append(h, field...)), nil
}

// BuildGetSchedules builds the signed query for all schedule slots.
func BuildGetSchedules(sessionID uint32, serial uint16, timestamp uint32, target Target) ([]byte, error) {
	h := newHeader(kindCommand, sessionID, serial, timestamp)
	if err := stampIdentity(h, target); err != nil {
		return nil, err
	}
	return Sign(appendSection(h, opGetSchedules, nil)), nil
}

// BuildCreateSchedule builds the signed command storing a schedule in the
// slot its ID names. The leading 0xff marks a full record write.
func BuildCreateSchedule(sessionID uint32, serial uint16, timestamp uint32, target Target,
	s schedule.Schedule) ([]byte, error) {

	record, err := s.Marshal()
	if err != nil {
		return nil, err
	}

	h := newHeader(kindCommand, sessionID, serial, timestamp)
	if err := stampIdentity(h, target); err != nil {
		return nil, err
	}

	args := make([]byte, 0, 1+len(record))
	args = append(args, 0xff)
	args = append(args, record...)
	return Sign(appendSection(h, opCreateSchedule, args)), nil
}

// BuildPatchSchedule builds the signed command rewriting an existing slot,
// used to flip a schedule's enabled flag without recreating it.
func BuildPatchSchedule(sessionID uint32, serial uint16, timestamp uint32, target Target,
	s schedule.Schedule) ([]byte, error) {

	record, err := s.Marshal()
	if err != nil {
		return nil, err
	}

	h := newHeader(kindCommand, sessionID, serial, timestamp)
	if err := stampIdentity(h, target); err != nil {
		return nil, err
	}

	args := make([]byte, 0, 1+len(record))
	args = append(args, byte(s.ID))
	args = append(args, record...)
	return Sign(appendSection(h, opPatchSchedule, args)), nil
}

// BuildDeleteSchedule builds the signed command clearing one schedule slot.
func BuildDeleteSchedule(sessionID uint32, serial uint16, timestamp uint32, target Target,
	id int) ([]byte, error) {

	if id < schedule.MinScheduleID || id > schedule.MaxScheduleID {
		return nil, fmt.Errorf("%w: schedule id %d outside %d-%d",
			ErrInvalidArgument, id, schedule.MinScheduleID, schedule.MaxScheduleID)
	}

	h := newHeader(kindCommand, sessionID, serial, timestamp)
	if err := stampIdentity(h, target); err != nil {
		return nil, err
	}
	return Sign(appendSection(h, opDeleteSchedule, []byte{byte(id)})), nil
}

// BuildSetShutterPosition builds the signed command driving a shutter to a
// position, 0 (closed) to 100 (open).
func BuildSetShutterPosition(sessionID uint32, serial uint16, timestamp uint32, target Target,
	position int) ([]byte, error) {

	if position < 0 || position > MaxShutterPosition {
		return nil, fmt.Errorf("%w: shutter position %d outside 0-%d",
			ErrInvalidArgument, position, MaxShutterPosition)
	}

	h := newHeader(kindCommand, sessionID, serial, timestamp)
	if err := stampIdentity(h, target); err != nil {
		return nil, err
	}
	return Sign(appendSection(h, opSetShutter, []byte{byte(position)})), nil
}

// BuildBreezeCommand builds the signed command transmitting one resolved
// infrared code to a Breeze thermostat. The code is the hex string produced
// by the remote resolver.
func BuildBreezeCommand(sessionID uint32, serial uint16, timestamp uint32, target Target,
	code string) ([]byte, error) {

	raw, err := hex.DecodeString(code)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: breeze command code %q", ErrInvalidArgument, code)
	}

	h := newHeader(kindCommand, sessionID, serial, timestamp)
	if err := stampIdentity(h, target); err != nil {
		return nil, err
	}

	args := make([]byte, 0, 4+len(raw))
	args = append(args, 0x00, 0x00, 0x00, 0x00)
	args = append(args, raw...)
	return Sign(appendSection(h, opBreezeCommand, args)), nil
}
