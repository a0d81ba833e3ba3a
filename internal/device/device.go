package device

import (
	"fmt"
	"math"
	"time"
)

// ProtocolFamily tags a device type with the binary dialect it speaks.
// Type1 covers the water heater and power plug generations, type2 covers
// the thermostat and shutter generations.
type ProtocolFamily int

const (
	FamilyType1 ProtocolFamily = iota + 1
	FamilyType2
)

func (f ProtocolFamily) String() string {
	switch f {
	case FamilyType1:
		return "type1"
	case FamilyType2:
		return "type2"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// Category groups device types by what they physically control.
type Category int

const (
	CategoryWaterHeater Category = iota + 1
	CategoryPowerPlug
	CategoryShutter
	CategoryThermostat
)

func (c Category) String() string {
	switch c {
	case CategoryWaterHeater:
		return "water-heater"
	case CategoryPowerPlug:
		return "power-plug"
	case CategoryShutter:
		return "shutter"
	case CategoryThermostat:
		return "thermostat"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Type identifies a hardware variant. The closed set below matches the
// two-byte model identifiers observed in broadcast frames.
type Type int

const (
	TypeMini Type = iota + 1
	TypePowerPlug
	TypeTouch
	TypeV2Esp
	TypeV2Qualcomm
	TypeV4
	TypeBreeze
	TypeRunner
)

// typeInfo binds each hardware variant to its display name, its wire
// identifier (hex of the two model bytes) and its category.
type typeInfo struct {
	name     string
	hexRep   string
	category Category
}

var typeTable = map[Type]typeInfo{
	TypeMini:       {"Switcher Mini", "030f", CategoryWaterHeater},
	TypePowerPlug:  {"Switcher Power Plug", "01a8", CategoryPowerPlug},
	TypeTouch:      {"Switcher Touch", "030b", CategoryWaterHeater},
	TypeV2Esp:      {"Switcher V2 (esp)", "01a7", CategoryWaterHeater},
	TypeV2Qualcomm: {"Switcher V2 (qualcomm)", "01a1", CategoryWaterHeater},
	TypeV4:         {"Switcher V4", "0317", CategoryWaterHeater},
	TypeBreeze:     {"Switcher Breeze", "0e01", CategoryThermostat},
	TypeRunner:     {"Switcher Runner", "0c01", CategoryShutter},
}

func (t Type) String() string {
	if info, ok := typeTable[t]; ok {
		return info.name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// HexRep returns the two-byte model identifier as it appears on the wire.
func (t Type) HexRep() string {
	return typeTable[t].hexRep
}

// Category returns the category the hardware variant belongs to.
func (t Type) Category() Category {
	return typeTable[t].category
}

// Family returns the protocol family the hardware variant speaks.
func (t Type) Family() ProtocolFamily {
	switch typeTable[t].category {
	case CategoryThermostat, CategoryShutter:
		return FamilyType2
	default:
		return FamilyType1
	}
}

// TypeFromHexRep resolves a wire model identifier to a Type.
// The second return value is false for identifiers outside the closed set.
func TypeFromHexRep(hexRep string) (Type, bool) {
	for t, info := range typeTable {
		if info.hexRep == hexRep {
			return t, true
		}
	}
	return 0, false
}

// State is the operating state reported by a device.
type State int

const (
	StateOff State = iota
	StateOn
)

func (s State) String() string {
	if s == StateOn {
		return "on"
	}
	return "off"
}

// ShutterDirection is the motion state of a shutter device.
type ShutterDirection int

const (
	ShutterStop ShutterDirection = iota
	ShutterUp
	ShutterDown
)

func (d ShutterDirection) String() string {
	switch d {
	case ShutterUp:
		return "up"
	case ShutterDown:
		return "down"
	default:
		return "stop"
	}
}

// ThermostatMode is the operating mode of a Breeze thermostat.
type ThermostatMode int

const (
	ModeAuto ThermostatMode = iota + 1
	ModeDry
	ModeFan
	ModeCool
	ModeHeat
)

func (m ThermostatMode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeDry:
		return "dry"
	case ModeFan:
		return "fan"
	case ModeCool:
		return "cool"
	case ModeHeat:
		return "heat"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ThermostatFanLevel is the fan speed of a Breeze thermostat.
type ThermostatFanLevel int

const (
	FanAuto ThermostatFanLevel = iota
	FanLow
	FanMedium
	FanHigh
)

func (l ThermostatFanLevel) String() string {
	switch l {
	case FanLow:
		return "low"
	case FanMedium:
		return "medium"
	case FanHigh:
		return "high"
	default:
		return "auto"
	}
}

// ThermostatSwing is the louver swing state of a Breeze thermostat.
type ThermostatSwing int

const (
	SwingOff ThermostatSwing = iota
	SwingOn
)

func (s ThermostatSwing) String() string {
	if s == SwingOn {
		return "on"
	}
	return "off"
}

// Descriptor is the immutable identity of one device, supplied by the
// caller once per target. The core never mutates it.
type Descriptor struct {
	// ID is the three-byte device identifier as a six-character hex string.
	ID string

	// MAC is the hardware address reported in broadcasts.
	MAC string

	// Type is the hardware variant; it fixes the category and the
	// protocol family used for every exchange with the device.
	Type Type

	// Key is the login key the device was paired with.
	Key string

	// IP is the last known address used for TCP commands.
	IP string
}

// Snapshot is one observation of a device's mutable state, decoded from a
// broadcast frame or a state response. Snapshots are immutable once built;
// a new one is produced per observation.
type Snapshot struct {
	Name          string
	State         State
	RemainingTime time.Duration
	AutoShutdown  time.Duration
	PowerWatts    int
	CurrentAmps   float64

	// Thermostat fields, populated for CategoryThermostat only.
	Temperature float64
	TargetTemp  int
	Mode        ThermostatMode
	FanLevel    ThermostatFanLevel
	Swing       ThermostatSwing
	RemoteID    string

	// Shutter fields, populated for CategoryShutter only.
	Position  int
	Direction ShutterDirection

	LastUpdate time.Time
}

// WattsToAmps derives the electric current from power consumption,
// assuming 220V mains as the devices do.
func WattsToAmps(watts int) float64 {
	return math.Round(float64(watts)/220*10) / 10
}
