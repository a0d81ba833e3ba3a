// Package schedule encodes and decodes the 8-byte schedule records devices
// store in their eight slots, and computes when a schedule next runs.
package schedule

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Day is one weekday in the schedule bitmask. The bit assignment is fixed
// by the device firmware, with the week starting on Sunday.
type Day int

const (
	Sunday Day = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// dayBits maps each weekday to its fixed bit in the schedule bitmask.
var dayBits = map[Day]byte{
	Monday:    0x02,
	Tuesday:   0x04,
	Wednesday: 0x08,
	Thursday:  0x10,
	Friday:    0x20,
	Saturday:  0x40,
	Sunday:    0x80,
}

func (d Day) String() string {
	return time.Weekday(d).String()
}

// NoRecurrence is the weekday bitmask sentinel carried by one-shot
// schedules. Distinct from all seven days (0xfe).
const NoRecurrence byte = 0x00

const (
	// MinScheduleID and MaxScheduleID bound the device's schedule slots.
	MinScheduleID = 0
	MaxScheduleID = 7

	// recordSize is the fixed byte size of one encoded schedule record.
	recordSize = 8

	minutesPerDay = 24 * 60
)

var (
	// ErrInvalidSchedule indicates a schedule violating the device's rules.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrBadRecord indicates an encoded record that cannot be decoded.
	ErrBadRecord = errors.New("bad schedule record")
)

// MinuteOfDay is a time of day expressed as minutes since local midnight,
// the fixed-width encoding the device uses for schedule boundaries.
type MinuteOfDay uint16

// Clock builds a MinuteOfDay from an hour and a minute.
func Clock(hour, minute int) MinuteOfDay {
	return MinuteOfDay(hour*60 + minute)
}

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// Schedule is one on/off rule stored in a device slot. A non-recurring
// schedule runs once at its start time; a recurring one runs on every
// weekday whose bit is set.
type Schedule struct {
	ID        int
	Enabled   bool
	Recurring bool
	Days      []Day
	Start     MinuteOfDay
	End       MinuteOfDay
}

// Duration is the on-period length, derived from the start and end times.
func (s Schedule) Duration() time.Duration {
	return time.Duration(s.End-s.Start) * time.Minute
}

// Validate checks the schedule against the device's rules before it is
// put on the wire.
func (s Schedule) Validate() error {
	if s.ID < MinScheduleID || s.ID > MaxScheduleID {
		return fmt.Errorf("%w: id %d out of range %d-%d",
			ErrInvalidSchedule, s.ID, MinScheduleID, MaxScheduleID)
	}
	if s.Start >= s.End {
		return fmt.Errorf("%w: start %s not before end %s",
			ErrInvalidSchedule, s.Start, s.End)
	}
	if int(s.End) >= minutesPerDay {
		return fmt.Errorf("%w: end %s beyond midnight", ErrInvalidSchedule, s.End)
	}
	if !s.Recurring && len(s.Days) > 0 {
		return fmt.Errorf("%w: one-shot schedule with weekdays", ErrInvalidSchedule)
	}
	if s.Recurring && len(s.Days) == 0 {
		return fmt.Errorf("%w: recurring schedule without weekdays", ErrInvalidSchedule)
	}
	return nil
}

// EncodeDays folds a weekday set into the device bitmask. An empty set
// yields the one-shot sentinel.
func EncodeDays(days []Day) byte {
	var bits byte
	for _, d := range days {
		bits |= dayBits[d]
	}
	return bits
}

// DecodeDays expands a device bitmask into a weekday set, ordered from
// Sunday. The one-shot sentinel yields an empty set.
func DecodeDays(bits byte) []Day {
	if bits == NoRecurrence {
		return nil
	}
	var days []Day
	for d, bit := range dayBits {
		if bits&bit != 0 {
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// Marshal encodes the schedule into its fixed 8-byte wire record:
//
//	[0]   slot id
//	[1]   enabled flag
//	[2]   weekday bitmask (0x00 = one-shot)
//	[3]   reserved
//	[4:6] start minute-of-day (little-endian)
//	[6:8] end minute-of-day (little-endian)
func (s Schedule) Marshal() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	record := make([]byte, recordSize)
	record[0] = byte(s.ID)
	if s.Enabled {
		record[1] = 0x01
	}
	record[2] = EncodeDays(s.Days)
	binary.LittleEndian.PutUint16(record[4:6], uint16(s.Start))
	binary.LittleEndian.PutUint16(record[6:8], uint16(s.End))
	return record, nil
}

// Unmarshal decodes one fixed-size wire record into a Schedule.
func Unmarshal(record []byte) (Schedule, error) {
	if len(record) != recordSize {
		return Schedule{}, fmt.Errorf("%w: %d bytes (want %d)",
			ErrBadRecord, len(record), recordSize)
	}
	bits := record[2]
	s := Schedule{
		ID:        int(record[0]),
		Enabled:   record[1] == 0x01,
		Recurring: bits != NoRecurrence,
		Days:      DecodeDays(bits),
		Start:     MinuteOfDay(binary.LittleEndian.Uint16(record[4:6])),
		End:       MinuteOfDay(binary.LittleEndian.Uint16(record[6:8])),
	}
	return s, nil
}

// RecordSize is the wire size of one encoded schedule record.
func RecordSize() int { return recordSize }

// NextRun computes the next trigger time of the schedule relative to ref,
// exact to the minute. One-shot schedules run at their start time today if
// it has not yet passed, and never again otherwise (ok == false). For
// recurring schedules the scan walks forward day by day from ref's day,
// today included only while the start time is still ahead.
func NextRun(s Schedule, ref time.Time) (next time.Time, ok bool) {
	startOfDay := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	startToday := startOfDay.Add(time.Duration(s.Start) * time.Minute)

	if !s.Recurring {
		if startToday.After(ref) {
			return startToday, true
		}
		return time.Time{}, false
	}

	bits := EncodeDays(s.Days)
	for offset := 0; offset <= 7; offset++ {
		candidate := startToday.AddDate(0, 0, offset)
		weekday := Day(candidate.Weekday())
		if bits&dayBits[weekday] == 0 {
			continue
		}
		if candidate.After(ref) {
			return candidate, true
		}
	}
	return time.Time{}, false
}
