package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/tomerfi/switcher/internal/device"
	"github.com/tomerfi/switcher/internal/schedule"
)

// Response field offsets.
const (
	offStatus = 40

	offStateValue   = 75
	offStatePower   = 77
	offStateRemain  = 89
	offStateTimeOn  = 93
	offStateAutoOff = 97

	offScheduleRecords = 45
)

// ErrDeviceRejected indicates a structurally valid response whose status
// field reports failure. The raw frame travels with the error for logging.
var ErrDeviceRejected = errors.New("device rejected command")

// RejectionError wraps ErrDeviceRejected with the device's status code and
// the raw response frame.
type RejectionError struct {
	Status uint16
	Frame  []byte
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("device rejected command: status %#04x", e.Status)
}

func (e *RejectionError) Unwrap() error { return ErrDeviceRejected }

// checkStatus validates framing and the status field shared by every
// response kind.
func checkStatus(raw []byte) ([]byte, error) {
	frame, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if len(frame) < offStatus+2+trailerSize {
		return nil, fmt.Errorf("%w: %d bytes, no status field", ErrMalformed, len(frame))
	}
	status := binary.LittleEndian.Uint16(frame[offStatus : offStatus+2])
	if status != 0 {
		return nil, &RejectionError{Status: status, Frame: frame}
	}
	return frame, nil
}

// LoginResponse is the decoded reply to a login request.
type LoginResponse struct {
	SessionID uint32
}

// ParseLoginResponse decodes a login reply and extracts the session id
// assigned to the connection.
func ParseLoginResponse(raw []byte) (LoginResponse, error) {
	frame, err := checkStatus(raw)
	if err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{
		SessionID: binary.LittleEndian.Uint32(frame[offSession : offSession+4]),
	}, nil
}

// StateResponse is the decoded reply to a state query.
type StateResponse struct {
	State         device.State
	PowerWatts    int
	CurrentAmps   float64
	RemainingTime time.Duration
	TimeOn        time.Duration
	AutoShutdown  time.Duration
}

// ParseStateResponse decodes a state query reply.
func ParseStateResponse(raw []byte) (StateResponse, error) {
	frame, err := checkStatus(raw)
	if err != nil {
		return StateResponse{}, err
	}
	if len(frame) < offStateAutoOff+4+trailerSize {
		return StateResponse{}, fmt.Errorf("%w: %d bytes, state fields missing",
			ErrMalformed, len(frame))
	}

	state := device.StateOff
	if binary.LittleEndian.Uint16(frame[offStateValue:offStateValue+2]) == 1 {
		state = device.StateOn
	}
	power := int(binary.LittleEndian.Uint16(frame[offStatePower : offStatePower+2]))

	return StateResponse{
		State:         state,
		PowerWatts:    power,
		CurrentAmps:   device.WattsToAmps(power),
		RemainingTime: secondsField(frame, offStateRemain),
		TimeOn:        secondsField(frame, offStateTimeOn),
		AutoShutdown:  secondsField(frame, offStateAutoOff),
	}, nil
}

// ParseAckResponse decodes a command acknowledgement, returning nil when
// the device reported success.
func ParseAckResponse(raw []byte) error {
	_, err := checkStatus(raw)
	return err
}

// ParseSchedulesResponse decodes a schedule query reply into the stored
// slots. A device with no schedules returns an empty record area.
func ParseSchedulesResponse(raw []byte) ([]schedule.Schedule, error) {
	frame, err := checkStatus(raw)
	if err != nil {
		return nil, err
	}
	if len(frame) < offScheduleRecords+trailerSize {
		return nil, fmt.Errorf("%w: %d bytes, record area missing", ErrMalformed, len(frame))
	}
	records := frame[offScheduleRecords : len(frame)-trailerSize]
	size := schedule.RecordSize()
	if len(records)%size != 0 {
		return nil, fmt.Errorf("%w: schedule area is %d bytes", ErrMalformed, len(records))
	}

	schedules := make([]schedule.Schedule, 0, len(records)/size)
	for i := 0; i < len(records); i += size {
		s, err := schedule.Unmarshal(records[i : i+size])
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, nil
}

func secondsField(frame []byte, off int) time.Duration {
	return time.Duration(binary.LittleEndian.Uint32(frame[off:off+4])) * time.Second
}

// The response encoders below mirror the parsers for the device side of
// the exchange. They keep the parsers honest (every response shape must
// round-trip) and drive the device emulations the session tests run
// against.

// BuildLoginResponse encodes a successful login reply carrying the session
// id assigned to the connection.
func BuildLoginResponse(sessionID uint32) []byte {
	body := make([]byte, headerSize)
	copy(body, newHeader(kindLogin, sessionID, 0, 0))
	return Sign(body)
}

// BuildAckResponse encodes a command acknowledgement with the given status
// code; zero means success.
func BuildAckResponse(status uint16) []byte {
	body := make([]byte, headerSize)
	copy(body, newHeader(kindCommand, 0, 0, 0))
	binary.LittleEndian.PutUint16(body[offStatus:offStatus+2], status)
	return Sign(body)
}

// BuildStateResponse encodes a state query reply. The derived CurrentAmps
// field is ignored; parsers recompute it from the power field.
func BuildStateResponse(r StateResponse) []byte {
	body := make([]byte, offStateAutoOff+4)
	copy(body, newHeader(kindState, 0, 0, 0))
	if r.State == device.StateOn {
		binary.LittleEndian.PutUint16(body[offStateValue:offStateValue+2], 1)
	}
	binary.LittleEndian.PutUint16(body[offStatePower:offStatePower+2], uint16(r.PowerWatts))
	binary.LittleEndian.PutUint32(body[offStateRemain:offStateRemain+4], uint32(r.RemainingTime/time.Second))
	binary.LittleEndian.PutUint32(body[offStateTimeOn:offStateTimeOn+4], uint32(r.TimeOn/time.Second))
	binary.LittleEndian.PutUint32(body[offStateAutoOff:offStateAutoOff+4], uint32(r.AutoShutdown/time.Second))
	return Sign(body)
}

// BuildSchedulesResponse encodes a schedule query reply carrying the given
// slots.
func BuildSchedulesResponse(schedules []schedule.Schedule) ([]byte, error) {
	body := make([]byte, offScheduleRecords+len(schedules)*schedule.RecordSize())
	copy(body, newHeader(kindCommand, 0, 0, 0))
	for i, s := range schedules {
		record, err := s.Marshal()
		if err != nil {
			return nil, err
		}
		copy(body[offScheduleRecords+i*schedule.RecordSize():], record)
	}
	return Sign(body), nil
}
