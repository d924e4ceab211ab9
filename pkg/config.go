package cscraw

import (
	"encoding/json"
	"fmt"
	"os"
)

// BXWindow is an inclusive [Min, Max] bunch-crossing interval.
type BXWindow struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (w BXWindow) Contains(bx int) bool {
	return bx >= w.Min && bx <= w.Max
}

type PackerConfig struct {
	FormatVersion  uint16 `json:"format_version"`
	UsePreTriggers bool   `json:"use_pre_triggers"`
	PackEverything bool   `json:"pack_everything"`
	PackByCFEB     bool   `json:"pack_by_cfeb"`
	IncludeGEMs    bool   `json:"include_gems"`
}

type PreTriggerConfig struct {
	PreTriggerWindow BXWindow `json:"pre_trigger_window"`
	ALCTWindow       BXWindow `json:"alct_window"`
	CLCTWindow       BXWindow `json:"clct_window"`
	ALCTCentralBX    int      `json:"alct_central_bx"`
	CLCTCentralBX    int      `json:"clct_central_bx"`
}

type UnpackerConfig struct {
	// 0 accepts every supported version
	FormatVersion uint16 `json:"unpack_format_version"`
}

type CompareConfig struct {
	Tolerance            map[string]BXWindow `json:"tolerance"`
	BusyChamberThreshold int                 `json:"busy_chamber_threshold"`
}

// ToleranceFor returns the matching window of a kind. Kinds without an
// explicit window must match exactly.
func (c CompareConfig) ToleranceFor(kind DigiKind) BXWindow {
	if w, ok := c.Tolerance[kind.String()]; ok {
		return w
	}
	return BXWindow{}
}

type Configuration struct {
	Era              string `json:"era"`
	MaxEvents        int    `json:"max_events"`
	Skip             int    `json:"skip"`
	Verbosity        int    `json:"verbosity"`
	FileIn           string `json:"file_in"`
	FileCandidate    string `json:"file_candidate"`
	FileOut          string `json:"file_out"`
	ReportOut        string `json:"report_out"`
	WriteReport      bool   `json:"write_report"`
	WriteRaw         bool   `json:"write_raw"`
	Discard          bool   `json:"discard"`
	NumWorkers       int    `json:"num_workers"`
	CompressionLevel int    `json:"compression_level"`
	NoDB             bool   `json:"no_db"`
	DBDriver         string `json:"db_driver"`
	Host             string `json:"host"`
	User             string `json:"user"`
	Passwd           string `json:"pass"`
	DBName           string `json:"dbname"`
	RunNumber        int    `json:"run_number"`
	SQLReport        bool   `json:"sql_report"`

	Packer     PackerConfig     `json:"packer"`
	PreTrigger PreTriggerConfig `json:"pre_trigger"`
	Unpacker   UnpackerConfig   `json:"unpacker"`
	Compare    CompareConfig    `json:"compare"`
}

// DefaultConfiguration is the base every era is derived from.
func DefaultConfiguration() Configuration {
	return Configuration{
		MaxEvents:        1000000000,
		Skip:             0,
		Verbosity:        0,
		WriteReport:      true,
		Discard:          false,
		NumWorkers:       1,
		CompressionLevel: 4,
		NoDB:             true,
		DBDriver:         "mysql",
		Host:             "localhost",
		User:             "cscreader",
		Passwd:           "readonly",
		DBName:           "CSCCONDITIONS",
		Packer: PackerConfig{
			FormatVersion:  FORMAT_2013,
			UsePreTriggers: false,
			PackEverything: true,
		},
		PreTrigger: PreTriggerConfig{
			PreTriggerWindow: BXWindow{Min: -3, Max: 1},
			ALCTWindow:       BXWindow{Min: -3, Max: 3},
			CLCTWindow:       BXWindow{Min: -3, Max: 3},
			ALCTCentralBX:    3,
			CLCTCentralBX:    7,
		},
		Compare: CompareConfig{
			Tolerance: map[string]BXWindow{
				KindWire.String():       {Min: 0, Max: 0},
				KindStrip.String():      {Min: 0, Max: 0},
				KindComparator.String(): {Min: 0, Max: 0},
			},
			BusyChamberThreshold: 0,
		},
	}
}

// Override changes a derived configuration.
type Override func(*Configuration)

// With returns a copy of c with the overrides applied in order. c is not
// modified.
func (c Configuration) With(overrides ...Override) Configuration {
	derived := c
	derived.Compare.Tolerance = make(map[string]BXWindow, len(c.Compare.Tolerance))
	for k, v := range c.Compare.Tolerance {
		derived.Compare.Tolerance[k] = v
	}
	for _, o := range overrides {
		o(&derived)
	}
	return derived
}

func WithFormatVersion(v uint16) Override {
	return func(c *Configuration) { c.Packer.FormatVersion = v }
}

func WithPreTriggers(use bool) Override {
	return func(c *Configuration) { c.Packer.UsePreTriggers = use }
}

func WithPackEverything(all bool) Override {
	return func(c *Configuration) { c.Packer.PackEverything = all }
}

func WithPackByCFEB(byCFEB bool) Override {
	return func(c *Configuration) { c.Packer.PackByCFEB = byCFEB }
}

func WithGEMs(gems bool) Override {
	return func(c *Configuration) { c.Packer.IncludeGEMs = gems }
}

func WithTolerance(kind DigiKind, w BXWindow) Override {
	return func(c *Configuration) { c.Compare.Tolerance[kind.String()] = w }
}

func WithWorkers(n int) Override {
	return func(c *Configuration) { c.NumWorkers = n }
}

// Run2 packs everything in the 2013 format.
func Run2() Configuration {
	return DefaultConfiguration().With(
		WithFormatVersion(FORMAT_2013),
		WithPreTriggers(false),
		WithPackEverything(true),
	)
}

// Run3 packs chambers around pre-triggers, grouped by CFEB.
func Run3() Configuration {
	return DefaultConfiguration().With(
		WithFormatVersion(FORMAT_2020),
		WithPreTriggers(true),
		WithPackEverything(false),
		WithPackByCFEB(true),
		WithGEMs(false),
	)
}

func EraConfiguration(era string) (Configuration, error) {
	switch era {
	case "", "default":
		return DefaultConfiguration(), nil
	case "run2", "Run2":
		return Run2(), nil
	case "run3", "Run3":
		return Run3(), nil
	}
	return Configuration{}, &ConfigError{Field: "era", Reason: fmt.Sprintf("unknown era %q", era)}
}

// LoadConfiguration reads a JSON file on top of the defaults of its era.
func LoadConfiguration(filename string) (Configuration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return DefaultConfiguration(), &ErrOpenFile{Filename: filename, Err: err}
	}

	var probe struct {
		Era string `json:"era"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return DefaultConfiguration(), fmt.Errorf("error parsing configuration %s: %w", filename, err)
	}
	config, err := EraConfiguration(probe.Era)
	if err != nil {
		return DefaultConfiguration(), err
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("error parsing configuration %s: %w", filename, err)
	}
	return config, config.Validate()
}

// Validate rejects packing options the format version cannot carry.
func (p PackerConfig) Validate() error {
	if p.PackByCFEB && p.FormatVersion < FORMAT_2020 {
		return &ConfigError{Field: "pack_by_cfeb", Reason: fmt.Sprintf("needs format %d or newer, got %d", FORMAT_2020, p.FormatVersion)}
	}
	if p.IncludeGEMs && p.FormatVersion < FORMAT_2020 {
		return &ConfigError{Field: "include_gems", Reason: fmt.Sprintf("needs format %d or newer, got %d", FORMAT_2020, p.FormatVersion)}
	}
	return nil
}

func validateWindow(field string, w BXWindow) error {
	if w.Min > w.Max {
		return &ConfigError{Field: field, Reason: fmt.Sprintf("min %d greater than max %d", w.Min, w.Max)}
	}
	return nil
}

// Validate rejects inconsistent option combinations.
func (c Configuration) Validate() error {
	p := c.Packer
	if !FormatVersionSupported(p.FormatVersion) {
		return &ConfigError{Field: "format_version", Reason: fmt.Sprintf("unsupported version %d", p.FormatVersion)}
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if u := c.Unpacker.FormatVersion; u != 0 && !FormatVersionSupported(u) {
		return &ConfigError{Field: "unpack_format_version", Reason: fmt.Sprintf("unsupported version %d", u)}
	}
	windows := map[string]BXWindow{
		"pre_trigger_window": c.PreTrigger.PreTriggerWindow,
		"alct_window":        c.PreTrigger.ALCTWindow,
		"clct_window":        c.PreTrigger.CLCTWindow,
	}
	for kind, w := range c.Compare.Tolerance {
		windows["tolerance."+kind] = w
	}
	for field, w := range windows {
		if err := validateWindow(field, w); err != nil {
			return err
		}
	}
	for kind := range c.Compare.Tolerance {
		if !knownKindName(kind) {
			return &ConfigError{Field: "tolerance", Reason: fmt.Sprintf("unknown digi kind %q", kind)}
		}
	}
	if c.Compare.BusyChamberThreshold < 0 {
		return &ConfigError{Field: "busy_chamber_threshold", Reason: "must not be negative"}
	}
	if c.NumWorkers < 1 {
		return &ConfigError{Field: "num_workers", Reason: fmt.Sprintf("need at least one worker, got %d", c.NumWorkers)}
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return &ConfigError{Field: "compression_level", Reason: fmt.Sprintf("must be in [0, 9], got %d", c.CompressionLevel)}
	}
	if c.Skip < 0 || c.MaxEvents < 0 {
		return &ConfigError{Field: "skip/max_events", Reason: "must not be negative"}
	}
	if !c.NoDB && c.DBDriver != "mysql" && c.DBDriver != "sqlite" {
		return &ConfigError{Field: "db_driver", Reason: fmt.Sprintf("unknown driver %q", c.DBDriver)}
	}
	return nil
}

func knownKindName(name string) bool {
	for k := KindWire; k <= KindGEMPadCluster; k++ {
		if k.String() == name {
			return true
		}
	}
	return false
}

func PrintConfiguration(config Configuration, logger Logger) {
	logger.Info(fmt.Sprintf("Era: %s", config.Era), "config")
	logger.Info(fmt.Sprintf("File in: %s", config.FileIn), "config")
	logger.Info(fmt.Sprintf("File candidate: %s", config.FileCandidate), "config")
	logger.Info(fmt.Sprintf("File out: %s", config.FileOut), "config")
	logger.Info(fmt.Sprintf("Report out: %s", config.ReportOut), "config")
	logger.Info(fmt.Sprintf("No DB: %t", config.NoDB), "config")
	logger.Info(fmt.Sprintf("DB driver: %s", config.DBDriver), "config")
	logger.Info(fmt.Sprintf("Host: %s", config.Host), "config")
	logger.Info(fmt.Sprintf("DB name: %s", config.DBName), "config")
	logger.Info(fmt.Sprintf("Skip: %d", config.Skip), "config")
	logger.Info(fmt.Sprintf("Max events: %d", config.MaxEvents), "config")
	logger.Info(fmt.Sprintf("Verbosity: %d", config.Verbosity), "config")
	logger.Info(fmt.Sprintf("Discard: %t", config.Discard), "config")
	logger.Info(fmt.Sprintf("Number of workers: %d", config.NumWorkers), "config")
	logger.Info(fmt.Sprintf("Format version: %d", config.Packer.FormatVersion), "config")
	logger.Info(fmt.Sprintf("Use pre-triggers: %t", config.Packer.UsePreTriggers), "config")
	logger.Info(fmt.Sprintf("Pack everything: %t", config.Packer.PackEverything), "config")
	logger.Info(fmt.Sprintf("Pack by CFEB: %t", config.Packer.PackByCFEB), "config")
	logger.Info(fmt.Sprintf("Include GEMs: %t", config.Packer.IncludeGEMs), "config")
	logger.Info(fmt.Sprintf("Pre-trigger window: %v", config.PreTrigger.PreTriggerWindow), "config")
	logger.Info(fmt.Sprintf("Busy chamber threshold: %d", config.Compare.BusyChamberThreshold), "config")
	if config.Packer.UsePreTriggers && config.Packer.PackEverything {
		logger.Info("Pack everything overrides pre-trigger selection", "config")
	}
}
