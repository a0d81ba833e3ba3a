package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Network ports used by the devices.
const (
	// CommandPort is the TCP port every device listens on for commands.
	CommandPort = 9957

	// BroadcastPortType1 carries UDP announcements from type1 devices
	// (water heaters and power plugs).
	BroadcastPortType1 = 20002

	// BroadcastPortType2 carries UDP announcements from type2 devices
	// (thermostats and shutters).
	BroadcastPortType2 = 20003
)

// Frame layout constants.
const (
	// Magic opens every frame on the wire.
	magicHi = 0xfe
	magicLo = 0xf0

	// trailerSize is the CRC signing trailer appended to every frame.
	trailerSize = 4

	// headerSize is the fixed portion before the command section.
	headerSize = 80

	// minFrameSize is the smallest decodable frame: magic, length,
	// and trailer.
	minFrameSize = 8

	// comKeySize is the length of the ASCII communication key mixed
	// into the second signing pass.
	comKeySize = 32
)

// Packet kinds, stored at offset 6 of the header.
const (
	kindLogin   uint16 = 0x00a1
	kindState   uint16 = 0x0301
	kindCommand uint16 = 0x0201
	kindRename  uint16 = 0x0202
)

// Header field offsets.
const (
	offLength     = 2
	offMarker     = 4
	offKind       = 6
	offSession    = 8
	offFixed      = 12
	offSerial     = 14
	offTimestamp  = 24
	offInnerMagic = 38
	offDeviceID   = 40
	offPhoneID    = 44
	offDeviceKey  = 48
	offPayload    = headerSize
)

var (
	// ErrMalformed indicates a frame whose structure contradicts itself:
	// wrong magic, or a declared length shorter than the bytes present.
	ErrMalformed = errors.New("malformed frame")

	// ErrTruncated indicates fewer bytes than the frame declares.
	ErrTruncated = errors.New("truncated frame")

	// ErrChecksumMismatch indicates a frame whose signing trailer does
	// not verify against its content.
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
)

// comKey is the fixed ASCII communication key mixed into the trailer.
var comKey = func() []byte {
	key := make([]byte, comKeySize)
	for i := range key {
		key[i] = '0'
	}
	return key
}()

// crc16 computes the CRC-16/CCITT checksum (polynomial 0x1021) over data,
// starting from crc. Devices seed the first pass with the polynomial value.
func crc16(data []byte, crc uint16) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Sign appends the 4-byte signing trailer to an unsigned frame and fixes
// the declared length to cover it. The frame is returned for chaining.
func Sign(frame []byte) []byte {
	binary.LittleEndian.PutUint16(frame[offLength:offLength+2], uint16(len(frame)+trailerSize))

	packetCRC := crc16(frame, 0x1021)
	frame = append(frame, byte(packetCRC), byte(packetCRC>>8))

	material := make([]byte, 0, 2+comKeySize)
	material = append(material, byte(packetCRC), byte(packetCRC>>8))
	material = append(material, comKey...)
	keyCRC := crc16(material, 0x1021)
	return append(frame, byte(keyCRC), byte(keyCRC>>8))
}

// Verify recomputes the signing trailer of a signed frame and reports
// whether it matches the four trailing bytes.
func Verify(frame []byte) bool {
	if len(frame) < minFrameSize {
		return false
	}
	body := frame[:len(frame)-trailerSize]
	trailer := frame[len(frame)-trailerSize:]

	packetCRC := crc16(body, 0x1021)
	if trailer[0] != byte(packetCRC) || trailer[1] != byte(packetCRC>>8) {
		return false
	}

	material := make([]byte, 0, 2+comKeySize)
	material = append(material, byte(packetCRC), byte(packetCRC>>8))
	material = append(material, comKey...)
	keyCRC := crc16(material, 0x1021)
	return trailer[2] == byte(keyCRC) && trailer[3] == byte(keyCRC>>8)
}

// Decode validates the framing of raw: magic, declared length, and signing
// trailer. It returns the frame with the trailer still attached; callers
// slice fields out by offset.
func Decode(raw []byte) ([]byte, error) {
	if len(raw) < minFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(raw))
	}
	if raw[0] != magicHi || raw[1] != magicLo {
		return nil, fmt.Errorf("%w: bad magic %#02x %#02x", ErrMalformed, raw[0], raw[1])
	}
	declared := int(binary.LittleEndian.Uint16(raw[offLength : offLength+2]))
	if declared > len(raw) {
		return nil, fmt.Errorf("%w: declares %d bytes, got %d", ErrTruncated, declared, len(raw))
	}
	if declared < len(raw) {
		return nil, fmt.Errorf("%w: declares %d bytes, got %d", ErrMalformed, declared, len(raw))
	}
	if !Verify(raw) {
		return nil, ErrChecksumMismatch
	}
	return raw, nil
}

// maxFrameSize bounds a single frame read off a stream. The largest
// legitimate frames (schedule lists, breeze commands) stay well under it.
const maxFrameSize = 4096

// ReadFrame reads exactly one frame off a stream using the declared length
// field, without validating the trailer; callers pass the result to Decode
// or one of the response parsers.
func ReadFrame(r io.Reader) ([]byte, error) {
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	if head[0] != magicHi || head[1] != magicLo {
		return nil, fmt.Errorf("%w: bad magic %#02x %#02x", ErrMalformed, head[0], head[1])
	}
	declared := int(binary.LittleEndian.Uint16(head[2:4]))
	if declared < minFrameSize || declared > maxFrameSize {
		return nil, fmt.Errorf("%w: declared length %d", ErrMalformed, declared)
	}
	frame := make([]byte, declared)
	copy(frame, head)
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	return frame, nil
}

// newHeader builds the fixed 80-byte request header shared by every
// packet kind. The command section is appended by the caller before
// signing; the length field is filled in by Sign.
func newHeader(kind uint16, sessionID uint32, serial uint16, timestamp uint32) []byte {
	h := make([]byte, headerSize, headerSize+32)
	h[0] = magicHi
	h[1] = magicLo
	h[offMarker] = 0x02
	h[offMarker+1] = 0x32
	binary.LittleEndian.PutUint16(h[offKind:offKind+2], kind)
	binary.LittleEndian.PutUint32(h[offSession:offSession+4], sessionID)
	h[offFixed] = 0x34
	binary.LittleEndian.PutUint16(h[offSerial:offSerial+2], serial)
	binary.LittleEndian.PutUint32(h[offTimestamp:offTimestamp+4], timestamp)
	h[offInnerMagic] = 0xf0
	h[offInnerMagic+1] = 0xfe
	return h
}
