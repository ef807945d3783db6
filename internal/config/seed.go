package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed supplies default domain data used when a subsystem boots with empty
// persistence. Seeding is idempotent: a subsystem reads its section only if
// its own persisted key is absent.
type Seed struct {
	SecurityZones []SeedSecurityZone `yaml:"security_zones"`
	ClimateZones  []SeedClimateZone  `yaml:"climate_zones"`
	Irrigation    []SeedIrrigation   `yaml:"irrigation_zones"`
}

// SeedSecurityZone declares a security zone and its member devices.
type SeedSecurityZone struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Devices []string `yaml:"devices"`
}

// SeedClimateZone declares an HVAC zone with its physical parameters.
type SeedClimateZone struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	AreaM2        float64 `yaml:"area_m2"`
	CeilingM      float64 `yaml:"ceiling_m"`
	TargetC       float64 `yaml:"target_c"`
	Insulation    string  `yaml:"insulation"`
	SunExposure   string  `yaml:"sun_exposure"`
	SetbackTempC  float64 `yaml:"setback_temp_c"`
	FrostProtectC float64 `yaml:"frost_protect_c"`
}

// SeedIrrigation declares an irrigation zone schedule entry.
type SeedIrrigation struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Days        []int  `yaml:"days"`
	StartTime   string `yaml:"start_time"`
	DurationMin int    `yaml:"duration_min"`
}

// LoadSeed reads a YAML seed file. An empty path returns an empty Seed.
func LoadSeed(path string) (*Seed, error) {
	if path == "" {
		return &Seed{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	seed := &Seed{}
	if err := yaml.Unmarshal(data, seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return seed, nil
}
