package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// DevicesConfig holds per-device overrides, keyed by the device ID that
// Manager.Get takes.
type DevicesConfig struct {
	Devices map[string]Config `yaml:"devices"`
}

// Manager resolves the effective config for one device in a fleet: a
// global config overlaid with that device's overrides, so a handful of
// devices can run a larger ring size or a different stats sink without a
// separate config file each.
type Manager struct {
	globalConfig  *Config
	deviceConfigs map[string]Config
	mu            sync.RWMutex
}

// NewManager loads both the fleet-wide master config and the per-device
// overrides file.
func NewManager(masterPath, devicesPath string) (*Manager, error) {
	master, err := LoadConfig(masterPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(devicesPath)
	if err != nil {
		// If the overrides file is missing, every device just runs the
		// global config.
		if os.IsNotExist(err) {
			return &Manager{globalConfig: master, deviceConfigs: make(map[string]Config)}, nil
		}
		return nil, err
	}
	defer f.Close()

	var dc DevicesConfig
	if err := yaml.NewDecoder(f).Decode(&dc); err != nil {
		return nil, err
	}

	return &Manager{
		globalConfig:  master,
		deviceConfigs: dc.Devices,
	}, nil
}

// Get returns the effective config for a device, merging its overrides (if
// any) on top of the global config.
func (m *Manager) Get(deviceID string) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := *m.globalConfig

	override, ok := m.deviceConfigs[deviceID]
	if !ok {
		return &effective
	}

	if override.Search.RingSize != 0 {
		effective.Search = override.Search
	}
	if override.Cache.RootPath != "" || override.Cache.SandboxMaxCapacity != 0 {
		effective.Cache = override.Cache
	}
	if override.Dctl.SocketPath != "" {
		effective.Dctl = override.Dctl
	}
	if override.Stats.Sink != "" {
		effective.Stats = override.Stats
	}
	if override.Fleet.SweepIntervalSec != 0 || override.Fleet.PubSub.TopicID != "" {
		effective.Fleet = override.Fleet
	}
	if override.IOTap.Enabled {
		effective.IOTap = override.IOTap
	}

	return &effective
}
