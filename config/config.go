package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// ModuleReference captures metadata about the configuration source that defined an entry.
type ModuleReference struct {
	File        string `json:"file,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ModuleInclude describes a referenced configuration module.
type ModuleInclude struct {
	Path        string
	Name        string
	Description string
}

// UnmarshalYAML allows module includes to be declared either as scalar strings or structured objects.
func (m *ModuleInclude) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return errors.New("module include node is nil")
	}
	switch value.Kind {
	case yaml.ScalarNode:
		var path string
		if err := value.Decode(&path); err != nil {
			return fmt.Errorf("decode module path: %w", err)
		}
		m.Path = strings.TrimSpace(path)
		return nil
	case yaml.MappingNode:
		type rawModule struct {
			Path        string `yaml:"path"`
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
		}
		var raw rawModule
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("decode module include: %w", err)
		}
		if raw.Path == "" {
			return errors.New("module include missing path")
		}
		m.Path = raw.Path
		m.Name = raw.Name
		m.Description = raw.Description
		return nil
	default:
		return fmt.Errorf("unsupported module include node kind %d", value.Kind)
	}
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
	Listen   string `yaml:"listen,omitempty"`
}

// JournalConfig configures the SQLite run journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// EventsConfig configures publishing of run progress to an MQTT broker.
type EventsConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Broker         string   `yaml:"broker,omitempty"`
	ClientID       string   `yaml:"client_id,omitempty"`
	TopicPrefix    string   `yaml:"topic_prefix,omitempty"`
	QoS            byte     `yaml:"qos,omitempty"`
	Retain         bool     `yaml:"retain,omitempty"`
	Username       string   `yaml:"username,omitempty"`
	Password       string   `yaml:"password,omitempty"`
	ConnectTimeout Duration `yaml:"connect_timeout,omitempty"`
}

// SingleChannelConfig drives a multi-channel pipette as a single-channel one.
type SingleChannelConfig struct {
	Enabled         *bool    `yaml:"enabled,omitempty"`
	ReverseTipOrder *bool    `yaml:"reverse_tip_order,omitempty"`
	Presses         int      `yaml:"presses,omitempty"`
	MinY            *float64 `yaml:"min_y,omitempty"`
}

// ModbusConfig describes how to reach a Modbus controlled gantry.
type ModbusConfig struct {
	Address       string   `yaml:"address,omitempty"`
	UnitID        uint8    `yaml:"unit_id,omitempty"`
	Timeout       Duration `yaml:"timeout,omitempty"`
	PollInterval  Duration `yaml:"poll_interval,omitempty"`
	ActionTimeout Duration `yaml:"action_timeout,omitempty"`
}

// InstrumentConfig selects the pipette and the driver talking to it.
type InstrumentConfig struct {
	Driver        string               `yaml:"driver,omitempty"`
	Model         string               `yaml:"model,omitempty"`
	Mount         string               `yaml:"mount,omitempty"`
	MaxVolume     float64              `yaml:"max_volume,omitempty"`
	SingleChannel *SingleChannelConfig `yaml:"single_channel,omitempty"`
	Modbus        ModbusConfig         `yaml:"modbus,omitempty"`
}

// TipRackConfig places a tip rack on the deck.
type TipRackConfig struct {
	LoadName string          `yaml:"load_name"`
	Slot     int             `yaml:"slot"`
	Source   ModuleReference `yaml:"-"`
}

// PaletteConfig places the reagent source plate on the deck.
type PaletteConfig struct {
	LoadName string `yaml:"load_name,omitempty"`
	Slot     int    `yaml:"slot,omitempty"`
}

// CanvasConfig places a plate that receives an art piece.
type CanvasConfig struct {
	Title    string          `yaml:"title"`
	LoadName string          `yaml:"load_name,omitempty"`
	Slot     int             `yaml:"slot"`
	Source   ModuleReference `yaml:"-"`
}

// TouchTipConfig selects when the tip is brushed against the source well after aspirating.
type TouchTipConfig struct {
	Mode      string   `yaml:"mode,omitempty"`
	Threshold *float64 `yaml:"threshold,omitempty"`
	VOffset   *float64 `yaml:"v_offset,omitempty"`
	When      string   `yaml:"when,omitempty"`
}

// DistributionConfig holds the dosing parameters shared by every reagent.
type DistributionConfig struct {
	Dose            float64        `yaml:"dose,omitempty"`
	DisposalVolume  *float64       `yaml:"disposal_volume,omitempty"`
	BatchLimit      int            `yaml:"batch_limit,omitempty"`
	// NewTipPerRefill picks up a fresh tip on every refill. Off by default, so
	// refills reuse the held tip until the batch ceiling.
	NewTipPerRefill bool           `yaml:"new_tip_per_refill,omitempty"`
	TouchTip        TouchTipConfig `yaml:"touch_tip,omitempty"`
}

// ReagentConfig declares a pigment culture loaded into the palette.
type ReagentConfig struct {
	ID     string          `yaml:"id"`
	Name   string          `yaml:"name,omitempty"`
	Well   string          `yaml:"well,omitempty"`
	Dose   float64         `yaml:"dose,omitempty"`
	Source ModuleReference `yaml:"-"`
}

// Pixel is an offset from the canvas centre in fractions of its half-dimensions.
type Pixel [3]float64

// PixelList accepts either a list of pixels or a single pixel triple.
type PixelList []Pixel

// UnmarshalYAML decodes `[[x, y, z], ...]` as well as a bare `[x, y, z]`.
func (p *PixelList) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return errors.New("pixel list node is nil")
	}
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: pixels must be a sequence", value.Line)
	}
	if len(value.Content) > 0 && value.Content[0].Kind == yaml.ScalarNode {
		var single Pixel
		if err := value.Decode(&single); err != nil {
			return fmt.Errorf("decode pixel: %w", err)
		}
		*p = PixelList{single}
		return nil
	}
	var list []Pixel
	if err := value.Decode(&list); err != nil {
		return fmt.Errorf("decode pixels: %w", err)
	}
	*p = list
	return nil
}

// PieceConfig lists the pixels of one art piece painted with a reagent.
type PieceConfig struct {
	Canvas string    `yaml:"canvas"`
	Pixels PixelList `yaml:"pixels"`
}

// ArtworkConfig groups every pixel painted with one reagent.
type ArtworkConfig struct {
	Reagent string          `yaml:"reagent"`
	Pieces  []PieceConfig   `yaml:"pieces"`
	Source  ModuleReference `yaml:"-"`
}

// Config is the root configuration structure.
type Config struct {
	Name         string             `yaml:"name,omitempty"`
	Description  string             `yaml:"description,omitempty"`
	Modules      []ModuleInclude    `yaml:"modules"`
	Logging      LoggingConfig      `yaml:"logging"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Journal      JournalConfig      `yaml:"journal"`
	Events       EventsConfig       `yaml:"events"`
	Instrument   InstrumentConfig   `yaml:"instrument"`
	TipRacks     []TipRackConfig    `yaml:"tip_racks"`
	Palette      PaletteConfig      `yaml:"palette"`
	Canvases     []CanvasConfig     `yaml:"canvases"`
	Distribution DistributionConfig `yaml:"distribution"`
	Reagents     []ReagentConfig    `yaml:"reagents"`
	Artwork      []ArtworkConfig    `yaml:"artwork"`
	Source       ModuleReference    `yaml:"-"`

	files []string
}

const (
	// DefaultDose is the per-pixel volume in microlitres.
	DefaultDose = 0.4
	// DefaultDisposalVolume is the extra volume aspirated with every refill.
	DefaultDisposalVolume = 2.0
	// DefaultBatchLimit caps the dispenses performed with one tip.
	DefaultBatchLimit = 150
	// DefaultTouchTipThreshold is the dose below which the tip is touched off.
	DefaultTouchTipThreshold = 0.3
	// DefaultTouchTipVOffset touches off 1 mm below the well top.
	DefaultTouchTipVOffset = -1.0
	// DefaultPaletteLoadName is used when the palette omits load_name.
	DefaultPaletteLoadName = "cryo_35_tuberack_2000ul"
	// DefaultCanvasLoadName is used when a canvas omits load_name.
	DefaultCanvasLoadName = "bioartbot_petriplate_90mm_round"
)

// DoseFor returns the per-pixel dose for the reagent.
func (c *Config) DoseFor(reagent ReagentConfig) float64 {
	if reagent.Dose > 0 {
		return reagent.Dose
	}
	return c.Distribution.DoseOrDefault()
}

// DoseOrDefault returns the configured dose or DefaultDose.
func (d DistributionConfig) DoseOrDefault() float64 {
	if d.Dose <= 0 {
		return DefaultDose
	}
	return d.Dose
}

// Disposal returns the configured disposal volume or DefaultDisposalVolume.
func (d DistributionConfig) Disposal() float64 {
	if d.DisposalVolume == nil {
		return DefaultDisposalVolume
	}
	return *d.DisposalVolume
}

// BatchLimitOrDefault returns the configured batch limit or DefaultBatchLimit.
func (d DistributionConfig) BatchLimitOrDefault() int {
	if d.BatchLimit <= 0 {
		return DefaultBatchLimit
	}
	return d.BatchLimit
}

// ThresholdOrDefault returns the touch-tip dose threshold.
func (t TouchTipConfig) ThresholdOrDefault() float64 {
	if t.Threshold == nil {
		return DefaultTouchTipThreshold
	}
	return *t.Threshold
}

// VOffsetOrDefault returns the touch-tip height relative to the well top.
func (t TouchTipConfig) VOffsetOrDefault() float64 {
	if t.VOffset == nil {
		return DefaultTouchTipVOffset
	}
	return *t.VOffset
}

// Reagent looks a reagent up by id.
func (c *Config) Reagent(id string) (ReagentConfig, bool) {
	for _, r := range c.Reagents {
		if r.ID == id {
			return r, true
		}
	}
	return ReagentConfig{}, false
}

// Load reads and decodes the configuration file or directory from disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	visited := make(map[string]struct{})
	if info.IsDir() {
		return loadDir(abs, visited)
	}
	return loadFile(abs, visited)
}

func loadFile(path string, visited map[string]struct{}) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var document yaml.Node
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if len(document.Content) == 0 || document.Content[0] == nil {
		return nil, fmt.Errorf("config %s is empty", path)
	}
	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config %s: top-level YAML document must be a mapping", path)
	}

	var generic interface{}
	if err := root.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := validateDocument(path, generic); err != nil {
		return nil, err
	}

	var cfg Config
	if err := root.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.setSource(ModuleReference{File: path, Name: cfg.Name, Description: cfg.Description})
	cfg.files = []string{path}

	modules := cfg.Modules
	cfg.Modules = nil

	baseDir := filepath.Dir(path)
	for _, module := range modules {
		if module.Path == "" {
			continue
		}
		modulePath := module.Path
		if !filepath.IsAbs(modulePath) {
			modulePath = filepath.Join(baseDir, module.Path)
		}
		info, err := os.Stat(modulePath)
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}

		var child *Config
		if info.IsDir() {
			child, err = loadDir(modulePath, visited)
		} else {
			child, err = loadFile(modulePath, visited)
		}
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}
		if child == nil {
			continue
		}
		child.applyModuleMetadata(ModuleReference{
			Name:        firstNonEmpty(module.Name, child.Source.Name),
			Description: firstNonEmpty(module.Description, child.Source.Description),
		})
		mergeConfig(&cfg, child)
	}
	return &cfg, nil
}

func loadDir(path string, visited map[string]struct{}) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	result := &Config{}
	result.setSource(ModuleReference{File: path})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		cfg, err := loadFile(filepath.Join(path, entry.Name()), visited)
		if err != nil {
			return nil, err
		}
		mergeConfig(result, cfg)
	}
	return result, nil
}

func mergeConfig(dst, src *Config) {
	if dst == nil || src == nil {
		return
	}

	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Description == "" {
		dst.Description = src.Description
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Logging.Loki.Enabled || src.Logging.Loki.URL != "" || len(src.Logging.Loki.Labels) > 0 {
		dst.Logging.Loki = src.Logging.Loki
	}
	if src.Telemetry != (TelemetryConfig{}) {
		dst.Telemetry = src.Telemetry
	}
	if src.Journal != (JournalConfig{}) {
		dst.Journal = src.Journal
	}
	if src.Events != (EventsConfig{}) {
		dst.Events = src.Events
	}
	if src.Instrument.Model != "" || src.Instrument.Driver != "" {
		dst.Instrument = src.Instrument
	}
	if src.Palette != (PaletteConfig{}) {
		dst.Palette = src.Palette
	}
	if src.Distribution.Dose != 0 {
		dst.Distribution.Dose = src.Distribution.Dose
	}
	if src.Distribution.DisposalVolume != nil {
		dst.Distribution.DisposalVolume = src.Distribution.DisposalVolume
	}
	if src.Distribution.BatchLimit != 0 {
		dst.Distribution.BatchLimit = src.Distribution.BatchLimit
	}
	if src.Distribution.NewTipPerRefill {
		dst.Distribution.NewTipPerRefill = true
	}
	if src.Distribution.TouchTip != (TouchTipConfig{}) {
		dst.Distribution.TouchTip = src.Distribution.TouchTip
	}

	dst.files = append(dst.files, src.files...)
	dst.TipRacks = append(dst.TipRacks, src.TipRacks...)
	dst.Canvases = append(dst.Canvases, src.Canvases...)
	dst.Reagents = append(dst.Reagents, src.Reagents...)
	dst.Artwork = append(dst.Artwork, src.Artwork...)
}

func (c *Config) setSource(meta ModuleReference) {
	if c == nil {
		return
	}
	if meta.File == "" {
		meta.File = c.Source.File
	}
	if meta.Name == "" {
		meta.Name = c.Name
	}
	if meta.Description == "" {
		meta.Description = c.Description
	}
	c.Source = meta
	for i := range c.TipRacks {
		c.TipRacks[i].Source = mergeInitialSource(c.TipRacks[i].Source, meta)
	}
	for i := range c.Canvases {
		c.Canvases[i].Source = mergeInitialSource(c.Canvases[i].Source, meta)
	}
	for i := range c.Reagents {
		c.Reagents[i].Source = mergeInitialSource(c.Reagents[i].Source, meta)
	}
	for i := range c.Artwork {
		c.Artwork[i].Source = mergeInitialSource(c.Artwork[i].Source, meta)
	}
}

func (c *Config) applyModuleMetadata(meta ModuleReference) {
	if c == nil {
		return
	}
	c.Source = mergeModuleOverride(c.Source, meta)
	for i := range c.TipRacks {
		c.TipRacks[i].Source = mergeModuleOverride(c.TipRacks[i].Source, meta)
	}
	for i := range c.Canvases {
		c.Canvases[i].Source = mergeModuleOverride(c.Canvases[i].Source, meta)
	}
	for i := range c.Reagents {
		c.Reagents[i].Source = mergeModuleOverride(c.Reagents[i].Source, meta)
	}
	for i := range c.Artwork {
		c.Artwork[i].Source = mergeModuleOverride(c.Artwork[i].Source, meta)
	}
}

func mergeInitialSource(child, meta ModuleReference) ModuleReference {
	if child.File == "" && meta.File != "" {
		child.File = meta.File
	}
	if child.Name == "" && meta.Name != "" {
		child.Name = meta.Name
	}
	if child.Description == "" && meta.Description != "" {
		child.Description = meta.Description
	}
	return child
}

func mergeModuleOverride(base, override ModuleReference) ModuleReference {
	if override.File != "" {
		base.File = override.File
	}
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Description != "" {
		base.Description = override.Description
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
