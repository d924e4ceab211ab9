package cscraw

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEras(t *testing.T) {
	run2 := Run2()
	assert.Equal(t, FORMAT_2013, run2.Packer.FormatVersion)
	assert.True(t, run2.Packer.PackEverything)
	assert.False(t, run2.Packer.UsePreTriggers)
	require.NoError(t, run2.Validate())

	run3 := Run3()
	assert.Equal(t, FORMAT_2020, run3.Packer.FormatVersion)
	assert.True(t, run3.Packer.UsePreTriggers)
	assert.False(t, run3.Packer.PackEverything)
	assert.True(t, run3.Packer.PackByCFEB)
	require.NoError(t, run3.Validate())

	for _, era := range []string{"", "default", "run2", "Run2", "run3", "Run3"} {
		_, err := EraConfiguration(era)
		assert.NoError(t, err, era)
	}
	_, err := EraConfiguration("run4")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestWithDoesNotModifyBase(t *testing.T) {
	base := DefaultConfiguration()
	derived := base.With(
		WithFormatVersion(FORMAT_2020),
		WithTolerance(KindWire, BXWindow{Min: -1, Max: 1}),
		WithWorkers(8),
		WithGEMs(true),
	)

	assert.Equal(t, FORMAT_2013, base.Packer.FormatVersion)
	assert.Equal(t, BXWindow{}, base.Compare.Tolerance[KindWire.String()])
	assert.Equal(t, 1, base.NumWorkers)

	assert.Equal(t, FORMAT_2020, derived.Packer.FormatVersion)
	assert.Equal(t, BXWindow{Min: -1, Max: 1}, derived.Compare.ToleranceFor(KindWire))
	assert.Equal(t, 8, derived.NumWorkers)
	assert.True(t, derived.Packer.IncludeGEMs)
}

func TestToleranceDefaultsToExactMatch(t *testing.T) {
	cfg := CompareConfig{}
	assert.Equal(t, BXWindow{}, cfg.ToleranceFor(KindALCT))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Configuration
		field string
	}{
		{"format version", DefaultConfiguration().With(WithFormatVersion(2017)), "format_version"},
		{"pack by CFEB in 2013", DefaultConfiguration().With(WithPackByCFEB(true)), "pack_by_cfeb"},
		{"GEMs in 2013", DefaultConfiguration().With(WithGEMs(true)), "include_gems"},
		{"tolerance window", DefaultConfiguration().With(WithTolerance(KindStrip, BXWindow{Min: 2, Max: 1})), "tolerance.Strip"},
		{"workers", DefaultConfiguration().With(WithWorkers(0)), "num_workers"},
		{"unpack version", func() Configuration {
			c := DefaultConfiguration()
			c.Unpacker.FormatVersion = 1999
			return c
		}(), "unpack_format_version"},
		{"pre-trigger window", func() Configuration {
			c := DefaultConfiguration()
			c.PreTrigger.PreTriggerWindow = BXWindow{Min: 1, Max: -1}
			return c
		}(), "pre_trigger_window"},
		{"tolerance kind", func() Configuration {
			c := DefaultConfiguration()
			c.Compare.Tolerance["Muon"] = BXWindow{}
			return c
		}(), "tolerance"},
		{"busy threshold", func() Configuration {
			c := DefaultConfiguration()
			c.Compare.BusyChamberThreshold = -1
			return c
		}(), "busy_chamber_threshold"},
		{"compression", func() Configuration {
			c := DefaultConfiguration()
			c.CompressionLevel = 10
			return c
		}(), "compression_level"},
		{"db driver", func() Configuration {
			c := DefaultConfiguration()
			c.NoDB = false
			c.DBDriver = "postgres"
			return c
		}(), "db_driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			var configErr *ConfigError
			require.ErrorAs(t, err, &configErr)
			assert.Equal(t, tt.field, configErr.Field)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}

	assert.NoError(t, DefaultConfiguration().Validate())
}

func TestLoadConfiguration(t *testing.T) {
	path := writeConfig(t, `{
		"era": "run3",
		"file_in": "digis.jsonl",
		"num_workers": 4,
		"packer": {"format_version": 2020, "use_pre_triggers": true, "pack_by_cfeb": true, "include_gems": true},
		"compare": {"tolerance": {"Wire": {"min": -1, "max": 1}}, "busy_chamber_threshold": 50}
	}`)

	cfg, err := LoadConfiguration(path)
	require.NoError(t, err)
	assert.Equal(t, "digis.jsonl", cfg.FileIn)
	assert.Equal(t, 4, cfg.NumWorkers)
	assert.True(t, cfg.Packer.IncludeGEMs)
	assert.True(t, cfg.Packer.PackByCFEB)
	assert.Equal(t, BXWindow{Min: -1, Max: 1}, cfg.Compare.ToleranceFor(KindWire))
	// Tolerances not in the file keep their default.
	assert.Equal(t, BXWindow{}, cfg.Compare.ToleranceFor(KindStrip))
	assert.Equal(t, 50, cfg.Compare.BusyChamberThreshold)
	// Defaults not in the file are kept.
	assert.Equal(t, 1000000000, cfg.MaxEvents)
	assert.Equal(t, 7, cfg.PreTrigger.CLCTCentralBX)
}

func TestLoadConfigurationErrors(t *testing.T) {
	_, err := LoadConfiguration(filepath.Join(t.TempDir(), "missing.json"))
	var openErr *ErrOpenFile
	assert.ErrorAs(t, err, &openErr)

	_, err = LoadConfiguration(writeConfig(t, `{"era": "run2", "packer": {"pack_by_cfeb": true}}`))
	assert.ErrorIs(t, err, ErrConfig)

	_, err = LoadConfiguration(writeConfig(t, `{"era": "run9"}`))
	assert.ErrorIs(t, err, ErrConfig)

	_, err = LoadConfiguration(writeConfig(t, `{"num_workers": "four"}`))
	assert.Error(t, err)
}
