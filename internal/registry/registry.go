package registry

import (
	"sort"
	"sync"
)

// Identity is the set of ids a client registers with. Empty fields are ignored.
type Identity struct {
	DeviceID string
	PlayerID string
}

// Registry indexes live connections by device id and by player id. Both maps
// sit behind one mutex so linking updates them atomically.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Conn
	players map[string]*Conn
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		devices: make(map[string]*Conn),
		players: make(map[string]*Conn),
	}
}

// RegisterDevice binds c to deviceID, superseding any earlier connection for
// that id. The superseded socket is not closed but loses the device identity.
// If c already holds a player id, the player mapping is refreshed to c as well.
func (r *Registry) RegisterDevice(c *Conn, deviceID string) {
	if deviceID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerDeviceLocked(c, deviceID)
}

// RegisterPlayer binds c to playerID. Symmetric to RegisterDevice.
func (r *Registry) RegisterPlayer(c *Conn, playerID string) {
	if playerID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerPlayerLocked(c, playerID)
}

// Register applies every non-empty identity in id.
func (r *Registry) Register(c *Conn, id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id.PlayerID != "" {
		r.registerPlayerLocked(c, id.PlayerID)
	}
	if id.DeviceID != "" {
		r.registerDeviceLocked(c, id.DeviceID)
	}
}

// Link binds deviceID to the connection currently registered as playerID.
// It reports whether such a connection exists.
func (r *Registry) Link(playerID, deviceID string) bool {
	if playerID == "" || deviceID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.players[playerID]
	if !ok || !c.IsOpen() {
		return false
	}
	r.registerDeviceLocked(c, deviceID)
	return true
}

func (r *Registry) registerDeviceLocked(c *Conn, deviceID string) {
	if old := c.DeviceID(); old != "" && old != deviceID && r.devices[old] == c {
		delete(r.devices, old)
	}
	if prev, ok := r.devices[deviceID]; ok && prev != c {
		prev.setDeviceID("")
	}
	c.setDeviceID(deviceID)
	r.devices[deviceID] = c
	if pid := c.PlayerID(); pid != "" {
		r.players[pid] = c
	}
}

func (r *Registry) registerPlayerLocked(c *Conn, playerID string) {
	if old := c.PlayerID(); old != "" && old != playerID && r.players[old] == c {
		delete(r.players, old)
	}
	if prev, ok := r.players[playerID]; ok && prev != c {
		prev.setPlayerID("")
	}
	c.setPlayerID(playerID)
	r.players[playerID] = c
	if did := c.DeviceID(); did != "" {
		r.devices[did] = c
	}
}

// Unregister removes the entries that point to exactly c. Entries that were
// superseded by a newer connection are left alone.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id := c.DeviceID(); id != "" && r.devices[id] == c {
		delete(r.devices, id)
	}
	if id := c.PlayerID(); id != "" && r.players[id] == c {
		delete(r.players, id)
	}
}

// Device returns the connection registered for deviceID.
func (r *Registry) Device(deviceID string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.devices[deviceID]
	return c, ok
}

// Player returns the connection registered for playerID.
func (r *Registry) Player(playerID string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.players[playerID]
	return c, ok
}

// Counts returns the number of device and player entries.
func (r *Registry) Counts() (devices, players int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices), len(r.players)
}

// Connections returns every distinct registered connection. A dual
// registered connection appears once.
func (r *Registry) Connections() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[*Conn]struct{}, len(r.devices)+len(r.players))
	out := make([]*Conn, 0, len(r.devices)+len(r.players))
	for _, c := range r.devices {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	for _, c := range r.players {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Snapshot is the registry content keyed by identity.
type Snapshot struct {
	Devices map[string]Info `json:"devices"`
	Players map[string]Info `json:"players"`
}

// Snapshot copies the registry for diagnostics.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	devices := make(map[string]*Conn, len(r.devices))
	for k, v := range r.devices {
		devices[k] = v
	}
	players := make(map[string]*Conn, len(r.players))
	for k, v := range r.players {
		players[k] = v
	}
	r.mu.Unlock()

	s := Snapshot{
		Devices: make(map[string]Info, len(devices)),
		Players: make(map[string]Info, len(players)),
	}
	for k, c := range devices {
		s.Devices[k] = c.Info()
	}
	for k, c := range players {
		s.Players[k] = c.Info()
	}
	return s
}

// DeviceIDs returns the registered device ids, sorted.
func (r *Registry) DeviceIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}
