// Package protocol implements the Switcher device binary protocol.
//
// This package handles construction, signing, and parsing of the binary
// frames used by Switcher water heaters, power plugs, shutters, and
// thermostats. Commands travel over TCP to port 9957; devices announce
// themselves with UDP broadcasts on ports 20002 (type1) and 20003 (type2).
//
// # Protocol Overview
//
// Every frame, request or response, has this structure:
//   - Magic: 0xfe 0xf0
//   - Total length: 2 bytes (little-endian), trailer included
//   - Header: session id, serial counter, timestamp, device identity
//   - Command section: opcode and arguments (requests only)
//   - Trailer: 4 bytes of CRC-16/CCITT signing material
//
// # Signing
//
// The trailer is built in two passes. First the CRC of the whole unsigned
// frame is appended low byte first. Then a second CRC is computed over
// those two bytes concatenated with the 32-byte ASCII communication key
// (thirty-two '0' characters) and appended the same way. Devices silently
// drop frames whose trailer does not verify.
//
// # Sessions
//
// A TCP exchange starts with a login request carrying the device key. The
// response returns a session id that must be echoed in every subsequent
// request on that connection. A serial counter increments per frame sent.
//
// # Usage Example
//
//	frame := protocol.BuildLogin(deviceKey, now)
//	// write frame to the TCP connection, read the response
//	login, err := protocol.ParseLoginResponse(resp)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	req := protocol.BuildSetState(login.SessionID, serial, now, dev, protocol.StateOn, 0)
package protocol
