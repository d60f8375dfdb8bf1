package pipette

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/timzifer/artbot/config"
	"github.com/timzifer/artbot/faults"
	"github.com/timzifer/artbot/tips"
)

// Factory creates an instrument for a driver.
//
// Factories are registered under a stable driver name so the protocol can
// open whatever hardware the configuration selects. racks are the tip racks
// assigned to the pipette in deck order.
type Factory func(cfg config.InstrumentConfig, model Model, racks []*tips.Rack, logger zerolog.Logger) (Instrument, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// RegisterDriver makes a driver available to Open. It panics on duplicates.
func RegisterDriver(name string, factory Factory) {
	if name == "" {
		panic("driver name must not be empty")
	}
	if factory == nil {
		panic("driver factory must not be nil")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("instrument driver %s already registered", name))
	}
	registry[name] = factory
}

// RegisteredDrivers lists the driver names in lexical order.
func RegisteredDrivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the configured instrument and, when requested or when the
// model has more than one channel, wraps it in a SingleChannel adapter.
func Open(cfg config.InstrumentConfig, racks []*tips.Rack, logger zerolog.Logger) (Instrument, error) {
	model, err := resolveModel(cfg)
	if err != nil {
		return nil, err
	}
	name := cfg.DriverOrDefault()
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, faults.Configuration("instrument driver %s not registered (known: %v)", name, RegisteredDrivers())
	}
	inst, err := factory(cfg, model, racks, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s instrument: %w", name, err)
	}
	return Adapt(inst, cfg.SingleChannel, racks)
}

// Adapt applies the single-channel settings to inst. Multi-channel models are
// adapted by default, with reversed tip order.
func Adapt(inst Instrument, sc *config.SingleChannelConfig, racks []*tips.Rack) (Instrument, error) {
	enabled := inst.Channels() > 1
	reverse := true
	opts := SingleChannelOptions{}
	if sc != nil {
		if sc.Enabled != nil {
			enabled = *sc.Enabled
		}
		if sc.ReverseTipOrder != nil {
			reverse = *sc.ReverseTipOrder
		}
		opts.Presses = sc.Presses
		opts.MinY = sc.MinY
	}
	if !enabled {
		return inst, nil
	}
	opts.ReverseTipOrder = reverse
	return NewSingleChannel(inst, racks, opts)
}

func resolveModel(cfg config.InstrumentConfig) (Model, error) {
	name := cfg.ModelOrDefault()
	model, ok := LookupModel(name)
	if !ok {
		return Model{}, faults.Configuration("unknown pipette model %q (known: %v)", name, Models())
	}
	if cfg.MaxVolume > 0 {
		if cfg.MaxVolume > model.MaxVolume {
			return Model{}, faults.Configuration("max_volume %v exceeds the %v uL rating of %s", cfg.MaxVolume, model.MaxVolume, name)
		}
		model.MaxVolume = cfg.MaxVolume
	}
	return model, nil
}

func init() {
	RegisterDriver(config.DefaultDriver, func(cfg config.InstrumentConfig, model Model, racks []*tips.Rack, logger zerolog.Logger) (Instrument, error) {
		return NewSimulator(model, racks, logger), nil
	})
}
