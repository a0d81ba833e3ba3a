package protocol

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/tomerfi/switcher/internal/device"
	"github.com/tomerfi/switcher/internal/schedule"
)

// buildResponse forges a signed device response for decoder tests. The
// body starts as zeroes with valid magic and header fields; set mutates
// it before signing.
func buildResponse(bodyLen int, sessionID uint32, status uint16, set func([]byte)) []byte {
	body := make([]byte, bodyLen)
	copy(body, newHeader(kindCommand, sessionID, 0, testTimestamp))
	binary.LittleEndian.PutUint16(body[offStatus:offStatus+2], status)
	if set != nil {
		set(body)
	}
	return Sign(body)
}

func TestParseLoginResponse(t *testing.T) {
	frame := buildResponse(headerSize, 0xcafe1234, 0, nil)

	login, err := ParseLoginResponse(frame)
	if err != nil {
		t.Fatalf("ParseLoginResponse() unexpected error: %v", err)
	}
	if login.SessionID != 0xcafe1234 {
		t.Errorf("SessionID = %#08x, want 0xcafe1234", login.SessionID)
	}
}

func TestParseLoginResponseRejected(t *testing.T) {
	frame := buildResponse(headerSize, 0, 0x0002, nil)

	_, err := ParseLoginResponse(frame)
	if !errors.Is(err, ErrDeviceRejected) {
		t.Fatalf("error = %v, want %v", err, ErrDeviceRejected)
	}
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatal("error does not carry a RejectionError")
	}
	if rej.Status != 0x0002 {
		t.Errorf("Status = %#04x, want 0x0002", rej.Status)
	}
	if len(rej.Frame) == 0 {
		t.Error("RejectionError carries no raw frame")
	}
}

func TestParseStateResponse(t *testing.T) {
	frame := buildResponse(offStateAutoOff+4, 1, 0, func(body []byte) {
		binary.LittleEndian.PutUint16(body[offStateValue:offStateValue+2], 1)
		binary.LittleEndian.PutUint16(body[offStatePower:offStatePower+2], 2600)
		binary.LittleEndian.PutUint32(body[offStateRemain:offStateRemain+4], 1800)
		binary.LittleEndian.PutUint32(body[offStateTimeOn:offStateTimeOn+4], 300)
		binary.LittleEndian.PutUint32(body[offStateAutoOff:offStateAutoOff+4], 5400)
	})

	state, err := ParseStateResponse(frame)
	if err != nil {
		t.Fatalf("ParseStateResponse() unexpected error: %v", err)
	}
	if state.State != device.StateOn {
		t.Errorf("State = %v, want on", state.State)
	}
	if state.PowerWatts != 2600 {
		t.Errorf("PowerWatts = %d, want 2600", state.PowerWatts)
	}
	if state.CurrentAmps != 11.8 {
		t.Errorf("CurrentAmps = %v, want 11.8", state.CurrentAmps)
	}
	if state.RemainingTime != 30*time.Minute {
		t.Errorf("RemainingTime = %v, want 30m", state.RemainingTime)
	}
	if state.TimeOn != 5*time.Minute {
		t.Errorf("TimeOn = %v, want 5m", state.TimeOn)
	}
	if state.AutoShutdown != 90*time.Minute {
		t.Errorf("AutoShutdown = %v, want 90m", state.AutoShutdown)
	}
}

func TestParseStateResponseTooShort(t *testing.T) {
	frame := buildResponse(headerSize, 1, 0, nil)

	if _, err := ParseStateResponse(frame); !errors.Is(err, ErrMalformed) {
		t.Errorf("error = %v, want %v", err, ErrMalformed)
	}
}

func TestParseAckResponse(t *testing.T) {
	if err := ParseAckResponse(buildResponse(headerSize, 1, 0, nil)); err != nil {
		t.Errorf("ParseAckResponse() unexpected error: %v", err)
	}
	if err := ParseAckResponse(buildResponse(headerSize, 1, 0x0001, nil)); !errors.Is(err, ErrDeviceRejected) {
		t.Errorf("error = %v, want %v", err, ErrDeviceRejected)
	}
	if err := ParseAckResponse([]byte{0xfe}); !errors.Is(err, ErrTruncated) {
		t.Errorf("error = %v, want %v", err, ErrTruncated)
	}
}

func TestParseSchedulesResponse(t *testing.T) {
	first := schedule.Schedule{
		ID: 0, Enabled: true, Recurring: true,
		Days:  []schedule.Day{schedule.Monday},
		Start: schedule.Clock(6, 0), End: schedule.Clock(7, 0),
	}
	second := schedule.Schedule{
		ID:    1,
		Start: schedule.Clock(20, 0), End: schedule.Clock(21, 30),
	}

	firstRec, err := first.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	secondRec, err := second.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	frame := buildResponse(offScheduleRecords+2*schedule.RecordSize(), 1, 0, func(body []byte) {
		copy(body[offScheduleRecords:], firstRec)
		copy(body[offScheduleRecords+schedule.RecordSize():], secondRec)
	})

	schedules, err := ParseSchedulesResponse(frame)
	if err != nil {
		t.Fatalf("ParseSchedulesResponse() unexpected error: %v", err)
	}
	if len(schedules) != 2 {
		t.Fatalf("got %d schedules, want 2", len(schedules))
	}
	if schedules[0].ID != 0 || !schedules[0].Enabled || !schedules[0].Recurring {
		t.Errorf("first schedule = %+v", schedules[0])
	}
	if schedules[1].ID != 1 || schedules[1].Recurring {
		t.Errorf("second schedule = %+v", schedules[1])
	}
	if schedules[1].Start != schedule.Clock(20, 0) {
		t.Errorf("second start = %v, want 20:00", schedules[1].Start)
	}
}

func TestParseSchedulesResponseEmpty(t *testing.T) {
	frame := buildResponse(offScheduleRecords, 1, 0, nil)

	schedules, err := ParseSchedulesResponse(frame)
	if err != nil {
		t.Fatalf("ParseSchedulesResponse() unexpected error: %v", err)
	}
	if len(schedules) != 0 {
		t.Errorf("got %d schedules, want 0", len(schedules))
	}
}

func TestParseSchedulesResponseNoRecordArea(t *testing.T) {
	// A verified frame just long enough to carry a zero status but too
	// short for the record area must decode to an error, not a panic.
	for bodyLen := offStatus + 2; bodyLen < offScheduleRecords; bodyLen++ {
		frame := buildResponse(bodyLen, 1, 0, nil)

		if _, err := ParseSchedulesResponse(frame); !errors.Is(err, ErrMalformed) {
			t.Errorf("body of %d bytes: error = %v, want %v", bodyLen, err, ErrMalformed)
		}
	}
}

func TestParseSchedulesResponseRaggedArea(t *testing.T) {
	frame := buildResponse(offScheduleRecords+3, 1, 0, nil)

	if _, err := ParseSchedulesResponse(frame); !errors.Is(err, ErrMalformed) {
		t.Errorf("error = %v, want %v", err, ErrMalformed)
	}
}
