package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/tomerfi/switcher/internal/device"
)

// Broadcast frame sizes, trailer included. Each device generation announces
// itself with a fixed-size datagram.
const (
	broadcastSizeType1  = 165
	broadcastSizeBreeze = 168
	broadcastSizeRunner = 159
)

// Broadcast field offsets shared by both families.
const (
	offBcastDeviceID = 18
	offBcastKey      = 40
	offBcastName     = 42
	offBcastType     = 74
)

// Type1 broadcast field offsets.
const (
	offBcastIP1      = 76
	offBcastMAC1     = 80
	offBcastState1   = 133
	offBcastPower1   = 135
	offBcastRemain1  = 147
	offBcastAutoOff1 = 155
)

// Type2 broadcast field offsets.
const (
	offBcastIP2  = 77
	offBcastMAC2 = 81

	offBcastTemp     = 135
	offBcastAcState  = 137
	offBcastAcMode   = 138
	offBcastAcTarget = 139
	offBcastAcFan    = 140
	offBcastRemoteID = 143

	offBcastPosition  = 135
	offBcastDirection = 137
)

// ParseBroadcast decodes one UDP announcement datagram into the device's
// identity and a state snapshot. Frames that fail framing or checksum
// validation, or carry an unknown device type, return an error; discovery
// drops those silently.
func ParseBroadcast(raw []byte) (device.Descriptor, device.Snapshot, error) {
	frame, err := Decode(raw)
	if err != nil {
		return device.Descriptor{}, device.Snapshot{}, err
	}

	switch len(frame) {
	case broadcastSizeType1, broadcastSizeBreeze, broadcastSizeRunner:
	default:
		return device.Descriptor{}, device.Snapshot{},
			fmt.Errorf("%w: broadcast of %d bytes", ErrMalformed, len(frame))
	}

	typeHex := hex.EncodeToString(frame[offBcastType : offBcastType+2])
	devType, ok := device.TypeFromHexRep(typeHex)
	if !ok {
		return device.Descriptor{}, device.Snapshot{},
			fmt.Errorf("%w: unknown device type %q", ErrMalformed, typeHex)
	}

	desc := device.Descriptor{
		ID:   hex.EncodeToString(frame[offBcastDeviceID : offBcastDeviceID+3]),
		Type: devType,
		Key:  hex.EncodeToString(frame[offBcastKey : offBcastKey+1]),
	}

	snap := device.Snapshot{
		Name:       nameField(frame[offBcastName : offBcastName+32]),
		LastUpdate: time.Now(),
	}

	if devType.Family() == device.FamilyType1 {
		if len(frame) != broadcastSizeType1 {
			return device.Descriptor{}, device.Snapshot{},
				fmt.Errorf("%w: type1 broadcast of %d bytes", ErrMalformed, len(frame))
		}
		desc.IP = leIP(frame[offBcastIP1 : offBcastIP1+4]).String()
		desc.MAC = macField(frame[offBcastMAC1 : offBcastMAC1+6])
		parseType1State(frame, &snap)
		return desc, snap, nil
	}

	desc.IP = beIP(frame[offBcastIP2 : offBcastIP2+4]).String()
	desc.MAC = macField(frame[offBcastMAC2 : offBcastMAC2+6])

	switch devType.Category() {
	case device.CategoryThermostat:
		if len(frame) != broadcastSizeBreeze {
			return device.Descriptor{}, device.Snapshot{},
				fmt.Errorf("%w: thermostat broadcast of %d bytes", ErrMalformed, len(frame))
		}
		parseThermostatState(frame, &snap)
	case device.CategoryShutter:
		if len(frame) != broadcastSizeRunner {
			return device.Descriptor{}, device.Snapshot{},
				fmt.Errorf("%w: shutter broadcast of %d bytes", ErrMalformed, len(frame))
		}
		parseShutterState(frame, &snap)
	}
	return desc, snap, nil
}

func parseType1State(frame []byte, snap *device.Snapshot) {
	if frame[offBcastState1] == 0x01 {
		snap.State = device.StateOn
	}
	snap.PowerWatts = int(binary.LittleEndian.Uint16(frame[offBcastPower1 : offBcastPower1+2]))
	snap.CurrentAmps = device.WattsToAmps(snap.PowerWatts)
	snap.RemainingTime = secondsField(frame, offBcastRemain1)
	snap.AutoShutdown = secondsField(frame, offBcastAutoOff1)
}

func parseThermostatState(frame []byte, snap *device.Snapshot) {
	if frame[offBcastAcState] == 0x01 {
		snap.State = device.StateOn
	}
	snap.Temperature = float64(binary.LittleEndian.Uint16(frame[offBcastTemp:offBcastTemp+2])) / 10
	snap.Mode = device.ThermostatMode(frame[offBcastAcMode])
	snap.TargetTemp = int(frame[offBcastAcTarget])
	snap.FanLevel = device.ThermostatFanLevel(frame[offBcastAcFan] >> 4)
	if frame[offBcastAcFan]&0x0f == 0x01 {
		snap.Swing = device.SwingOn
	}
	snap.RemoteID = nameField(frame[offBcastRemoteID : offBcastRemoteID+8])
}

func parseShutterState(frame []byte, snap *device.Snapshot) {
	snap.Position = int(frame[offBcastPosition])
	switch {
	case frame[offBcastDirection] == 0x01:
		snap.Direction = device.ShutterUp
	case frame[offBcastDirection+1] == 0x01:
		snap.Direction = device.ShutterDown
	default:
		snap.Direction = device.ShutterStop
	}
	if snap.Direction != device.ShutterStop {
		snap.State = device.StateOn
	}
}

// EncodeBroadcast builds a signed announcement datagram for a device. It
// mirrors ParseBroadcast for the device side of discovery and drives the
// listener tests.
func EncodeBroadcast(desc device.Descriptor, snap device.Snapshot) ([]byte, error) {
	var size int
	switch {
	case desc.Type.Family() == device.FamilyType1:
		size = broadcastSizeType1
	case desc.Type.Category() == device.CategoryThermostat:
		size = broadcastSizeBreeze
	default:
		size = broadcastSizeRunner
	}
	body := make([]byte, size-trailerSize)
	body[0] = magicHi
	body[1] = magicLo

	id, err := hex.DecodeString(desc.ID)
	if err != nil || len(id) != 3 {
		return nil, fmt.Errorf("%w: device id %q", ErrMalformed, desc.ID)
	}
	copy(body[offBcastDeviceID:], id)
	key, err := hex.DecodeString(desc.Key)
	if err != nil || len(key) != 1 {
		return nil, fmt.Errorf("%w: device key %q", ErrMalformed, desc.Key)
	}
	body[offBcastKey] = key[0]
	copy(body[offBcastName:offBcastName+32], snap.Name)
	typeBytes, err := hex.DecodeString(desc.Type.HexRep())
	if err != nil {
		return nil, fmt.Errorf("%w: device type %v", ErrMalformed, desc.Type)
	}
	copy(body[offBcastType:], typeBytes)

	ip := net.ParseIP(desc.IP).To4()
	if ip == nil {
		return nil, fmt.Errorf("%w: device address %q", ErrMalformed, desc.IP)
	}
	mac, err := net.ParseMAC(desc.MAC)
	if err != nil {
		return nil, fmt.Errorf("%w: device mac %q", ErrMalformed, desc.MAC)
	}

	if desc.Type.Family() == device.FamilyType1 {
		body[offBcastIP1] = ip[3]
		body[offBcastIP1+1] = ip[2]
		body[offBcastIP1+2] = ip[1]
		body[offBcastIP1+3] = ip[0]
		copy(body[offBcastMAC1:], mac)
		if snap.State == device.StateOn {
			body[offBcastState1] = 0x01
		}
		binary.LittleEndian.PutUint16(body[offBcastPower1:], uint16(snap.PowerWatts))
		binary.LittleEndian.PutUint32(body[offBcastRemain1:], uint32(snap.RemainingTime/time.Second))
		binary.LittleEndian.PutUint32(body[offBcastAutoOff1:], uint32(snap.AutoShutdown/time.Second))
		return Sign(body), nil
	}

	copy(body[offBcastIP2:], ip)
	copy(body[offBcastMAC2:], mac)
	switch desc.Type.Category() {
	case device.CategoryThermostat:
		binary.LittleEndian.PutUint16(body[offBcastTemp:], uint16(snap.Temperature*10))
		if snap.State == device.StateOn {
			body[offBcastAcState] = 0x01
		}
		body[offBcastAcMode] = byte(snap.Mode)
		body[offBcastAcTarget] = byte(snap.TargetTemp)
		body[offBcastAcFan] = byte(snap.FanLevel) << 4
		if snap.Swing == device.SwingOn {
			body[offBcastAcFan] |= 0x01
		}
		copy(body[offBcastRemoteID:offBcastRemoteID+8], snap.RemoteID)
	case device.CategoryShutter:
		body[offBcastPosition] = byte(snap.Position)
		switch snap.Direction {
		case device.ShutterUp:
			body[offBcastDirection] = 0x01
		case device.ShutterDown:
			body[offBcastDirection+1] = 0x01
		}
	}
	return Sign(body), nil
}

// nameField trims the zero padding off a fixed-size ASCII field.
func nameField(field []byte) string {
	if i := bytes.IndexByte(field, 0x00); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

func macField(field []byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		field[0], field[1], field[2], field[3], field[4], field[5])
}

// leIP decodes the little-endian address field type1 devices broadcast.
func leIP(field []byte) net.IP {
	return net.IPv4(field[3], field[2], field[1], field[0])
}

// beIP decodes the big-endian address field type2 devices broadcast.
func beIP(field []byte) net.IP {
	return net.IPv4(field[0], field[1], field[2], field[3])
}
