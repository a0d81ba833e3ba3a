package config

import "time"

// Registry represents the entire user configuration file: known devices
// and application preferences. The core library takes descriptors as plain
// values; the registry only serves the CLI front end.
type Registry struct {
	Version     int                `yaml:"version"`
	Devices     map[string]*Device `yaml:"devices,omitempty"` // keyed by device id
	Preferences *Preferences       `yaml:"preferences,omitempty"`
}

// Device is the stored identity of one paired device, collected from
// discovery broadcasts or entered by the user.
type Device struct {
	Name     string    `yaml:"name,omitempty"`      // last name the device reported
	Type     string    `yaml:"type,omitempty"`      // model identifier hex (e.g. "0317")
	Key      string    `yaml:"key,omitempty"`       // login key the device was paired with
	LastIP   string    `yaml:"last_ip,omitempty"`   // last known address
	LastSeen time.Time `yaml:"last_seen,omitempty"` // last broadcast or command time
	RemoteID string    `yaml:"remote_id,omitempty"` // paired IR remote, thermostats only
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	DiscoverTimeout int    `yaml:"discover_timeout"`      // discovery run length in seconds
	CatalogDir      string `yaml:"catalog_dir,omitempty"` // remote catalog cache override
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version: 1,
		Devices: make(map[string]*Device),
		Preferences: &Preferences{
			DiscoverTimeout: 10,
		},
	}
}

// GetDevice retrieves a stored device by id, or nil when unknown.
func (r *Registry) GetDevice(id string) *Device {
	return r.Devices[id]
}

// EnsureDevice returns the stored entry for a device id, creating an empty
// one on first sight.
func (r *Registry) EnsureDevice(id string) *Device {
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}
	if d, ok := r.Devices[id]; ok {
		return d
	}
	d := &Device{}
	r.Devices[id] = d
	return d
}

// RemoveDevice drops a stored device. Reports whether it existed.
func (r *Registry) RemoveDevice(id string) bool {
	if _, ok := r.Devices[id]; !ok {
		return false
	}
	delete(r.Devices, id)
	return true
}
