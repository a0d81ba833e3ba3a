// Package breeze resolves thermostat configurations to infrared transmit
// codes using the vendor's per-remote IRSet catalogs.
//
// Every Breeze unit pairs with one remote identifier. The catalog for that
// identifier maps command keys (mode, temperature, fan level, swing) to
// raw IR wave codes. Resolution is an exact-match lookup: a combination
// the remote does not support is an error, never approximated.
package breeze

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tomerfi/switcher/internal/device"
)

var (
	// ErrUnsupportedConfiguration indicates a state/mode/fan/swing
	// combination the remote's catalog has no code for.
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")

	// ErrInvalidArgument indicates a temperature outside the remote's
	// supported range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBadCatalog indicates catalog data that does not parse.
	ErrBadCatalog = errors.New("bad remote catalog")
)

// modeCommands maps thermostat modes to their command key prefixes.
var modeCommands = map[device.ThermostatMode]string{
	device.ModeAuto: "aa",
	device.ModeDry:  "ad",
	device.ModeFan:  "aw",
	device.ModeCool: "ar",
	device.ModeHeat: "ah",
}

// fanCommands maps fan levels to their command key fragments.
var fanCommands = map[device.ThermostatFanLevel]string{
	device.FanAuto:   "f0",
	device.FanLow:    "f1",
	device.FanMedium: "f2",
	device.FanHigh:   "f3",
}

// specialSwingRemotes lists the remote ids (provided by the vendor) whose
// swing is transmitted as a separate command instead of a key suffix.
var specialSwingRemotes = map[string]bool{
	"ELEC7022": true,
	"ZM079055": true,
	"ZM079065": true,
	"ZM079049": true,
}

// transmitPrefix opens every resolved transmit code.
const transmitPrefix = "00000000"

// IRWave is one catalog entry: a command key and its raw wave code.
type IRWave struct {
	Key     string `json:"Key"`
	Para    string `json:"Para"`
	HexCode string `json:"HexCode"`
}

// irSetDocument is the vendor's catalog JSON shape.
type irSetDocument struct {
	IRSetID    string   `json:"IRSetID"`
	OnOffType  int      `json:"OnOffType"`
	IRWaveList []IRWave `json:"IRWaveList"`
}

// ModeFeatures describes what one thermostat mode supports on a remote.
type ModeFeatures struct {
	Swing              bool
	FanLevels          []device.ThermostatFanLevel
	TemperatureControl bool
}

// Remote is one loaded catalog. Immutable once parsed; safe for concurrent
// resolutions.
type Remote struct {
	id             string
	onOffType      bool
	separatedSwing bool
	waves          map[string]IRWave
	features       map[device.ThermostatMode]*ModeFeatures
	minTemp        int
	maxTemp        int
}

var fanKeyPattern = regexp.MustCompile(`.+(f\d)`)

// ParseRemote builds a Remote from the vendor's catalog JSON.
func ParseRemote(data []byte) (*Remote, error) {
	var doc irSetDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCatalog, err)
	}
	if doc.IRSetID == "" || len(doc.IRWaveList) == 0 {
		return nil, fmt.Errorf("%w: missing id or wave list", ErrBadCatalog)
	}

	r := &Remote{
		id:             doc.IRSetID,
		onOffType:      doc.OnOffType == 1,
		separatedSwing: specialSwingRemotes[doc.IRSetID],
		waves:          make(map[string]IRWave, len(doc.IRWaveList)),
		features:       make(map[device.ThermostatMode]*ModeFeatures),
		minTemp:        100,
		maxTemp:        -100,
	}

	commandToMode := make(map[string]device.ThermostatMode, len(modeCommands))
	for mode, cmd := range modeCommands {
		commandToMode[cmd] = mode
	}
	commandToFan := make(map[string]device.ThermostatFanLevel, len(fanCommands))
	for level, cmd := range fanCommands {
		commandToFan[cmd] = level
	}

	for _, wave := range doc.IRWaveList {
		key := wave.Key
		mode, hasMode := commandToMode[prefix(key, 2)]
		if hasMode {
			feats, seen := r.features[mode]
			if !seen {
				feats = &ModeFeatures{Swing: r.separatedSwing}
				r.features[mode] = feats
			}
			if m := fanKeyPattern.FindStringSubmatch(key); m != nil {
				if level, ok := commandToFan[m[1]]; ok && !containsLevel(feats.FanLevels, level) {
					feats.FanLevels = append(feats.FanLevels, level)
				}
			}
			if temp, err := strconv.Atoi(substr(key, 2, 4)); err == nil {
				feats.TemperatureControl = true
				if temp > r.maxTemp {
					r.maxTemp = temp
				}
				if temp < r.minTemp {
					r.minTemp = temp
				}
			}
			if strings.Contains(key, "d1") {
				feats.Swing = true
			}
		}
		r.waves[key] = wave
	}
	return r, nil
}

// ID returns the remote identifier the catalog was published under.
func (r *Remote) ID() string { return r.id }

// OnOffType reports whether the remote toggles power with a single code
// instead of separate on and off codes.
func (r *Remote) OnOffType() bool { return r.onOffType }

// SeparatedSwingCommand reports whether swing is driven by its own command
// rather than a key suffix.
func (r *Remote) SeparatedSwingCommand() bool { return r.separatedSwing }

// MinTemperature returns the lowest settable temperature.
func (r *Remote) MinTemperature() int { return r.minTemp }

// MaxTemperature returns the highest settable temperature.
func (r *Remote) MaxTemperature() int { return r.maxTemp }

// SupportedModes returns the modes the catalog carries codes for.
func (r *Remote) SupportedModes() []device.ThermostatMode {
	modes := make([]device.ThermostatMode, 0, len(r.features))
	for mode := device.ModeAuto; mode <= device.ModeHeat; mode++ {
		if _, ok := r.features[mode]; ok {
			modes = append(modes, mode)
		}
	}
	return modes
}

// Features returns what one mode supports, or nil for an unsupported mode.
func (r *Remote) Features(mode device.ThermostatMode) *ModeFeatures {
	return r.features[mode]
}

// Request is one desired thermostat configuration to resolve.
type Request struct {
	State       device.State
	Mode        device.ThermostatMode
	Temperature int
	Fan         device.ThermostatFanLevel
	Swing       device.ThermostatSwing

	// PreviousState feeds toggle-type remotes, which need to know the
	// unit's current state to decide whether a power flip rides on the
	// command. Ignored unless PreviousKnown is set.
	PreviousState device.State
	PreviousKnown bool
}

// Resolve maps a desired configuration to its transmit code. The lookup is
// exact: a missing key is ErrUnsupportedConfiguration, never a near match.
func (r *Remote) Resolve(req Request) (string, error) {
	if !r.onOffType && req.State == device.StateOff {
		return r.encode("off")
	}

	var key string
	if r.onOffType && req.PreviousKnown && req.PreviousState != req.State {
		key = "on_"
	}

	feats, ok := r.features[req.Mode]
	if !ok {
		return "", fmt.Errorf("%w: mode %v not supported by remote %s",
			ErrUnsupportedConfiguration, req.Mode, r.id)
	}
	key += modeCommands[req.Mode]

	if feats.TemperatureControl {
		if req.Temperature <= 0 || req.Temperature < r.minTemp || req.Temperature > r.maxTemp {
			return "", fmt.Errorf("%w: temperature %d outside %d-%d",
				ErrInvalidArgument, req.Temperature, r.minTemp, r.maxTemp)
		}
		key += strconv.Itoa(req.Temperature)
	}

	key += "_" + fanCommands[req.Fan]

	if req.Swing == device.SwingOn && !r.separatedSwing {
		key += "_d1"
	}

	return r.encode(key)
}

// ResolveSwing maps a swing state to its standalone command on remotes that
// transmit swing separately.
func (r *Remote) ResolveSwing(swing device.ThermostatSwing) (string, error) {
	key := "FUN_d0"
	if swing == device.SwingOn {
		key = "FUN_d1"
	}
	return r.encode(key)
}

func (r *Remote) encode(key string) (string, error) {
	wave, ok := r.waves[key]
	if !ok {
		return "", fmt.Errorf("%w: no code for key %q on remote %s",
			ErrUnsupportedConfiguration, key, r.id)
	}
	raw := wave.Para + "|" + wave.HexCode
	return transmitPrefix + hex.EncodeToString([]byte(raw)), nil
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

func substr(s string, from, to int) string {
	if len(s) < to {
		return ""
	}
	return s[from:to]
}

func containsLevel(levels []device.ThermostatFanLevel, level device.ThermostatFanLevel) bool {
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}
