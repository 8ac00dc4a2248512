package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aevon-lab/geoagg/internal/core/crs"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment overrides; "__" separates levels,
// e.g. GEOAGG_DATABASE__DSN.
const EnvPrefix = "GEOAGG_"

// Config is the full run configuration.
type Config struct {
	DataRoot        string         `koanf:"data_root"`
	BoundarySource  string         `koanf:"boundary_source"`
	Years           []string       `koanf:"years"`
	Subcategory     bool           `koanf:"subcategory"`
	CategoryField   string         `koanf:"category_field"`
	SourceCRS       string         `koanf:"source_crs"`
	FeaturesDir     string         `koanf:"features_dir"`
	BoundaryDir     string         `koanf:"boundary_dir"`
	OutputDir       string         `koanf:"output_dir"`
	LayerNameToken  int            `koanf:"layer_name_token"`
	LoadWorkers     int            `koanf:"load_workers"`
	StrictGeometry  bool           `koanf:"strict_geometry"`
	ContinueOnError bool           `koanf:"continue_on_error"`
	Manifest        bool           `koanf:"manifest"`
	Boundary        BoundaryConfig `koanf:"boundary"`
	Metrics         MetricsConfig  `koanf:"metrics"`
	Database        DatabaseConfig `koanf:"database"`
}

type BoundaryConfig struct {
	Fields BoundaryFields `koanf:"fields"`
}

// BoundaryFields names the source attributes renamed to the boundary table's
// id/country/region/perimeter/area.
type BoundaryFields struct {
	ID        string `koanf:"id"`
	Country   string `koanf:"country"`
	Region    string `koanf:"region"`
	Perimeter string `koanf:"perimeter"`
	Area      string `koanf:"area"`
}

type MetricsConfig struct {
	Textfile string `koanf:"textfile"` // node-exporter textfile path; empty disables
}

type DatabaseConfig struct {
	Enabled      bool   `koanf:"enabled"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// BoundaryPath is <data_root>/<boundary_dir>/<boundary_source>.
func (c *Config) BoundaryPath() string {
	return filepath.Join(c.DataRoot, c.BoundaryDir, c.BoundarySource)
}

// OutputRoot is <data_root>/<output_dir>.
func (c *Config) OutputRoot() string {
	return filepath.Join(c.DataRoot, c.OutputDir)
}

// ParsedYears expands the configured year entries.
func (c *Config) ParsedYears() ([]int, error) {
	return ParseYears(c.Years)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataRoot) == "" {
		return fmt.Errorf("data_root is required")
	}
	if strings.TrimSpace(c.BoundarySource) == "" {
		return fmt.Errorf("boundary_source is required")
	}
	years, err := c.ParsedYears()
	if err != nil {
		return fmt.Errorf("invalid years: %w", err)
	}
	if len(years) == 0 {
		return fmt.Errorf("years is required")
	}
	if strings.TrimSpace(c.CategoryField) == "" {
		return fmt.Errorf("category_field must not be empty")
	}
	if _, err := crs.Parse(c.SourceCRS); err != nil {
		return fmt.Errorf("invalid source_crs: %w", err)
	}
	for key, dir := range map[string]string{
		"features_dir": c.FeaturesDir,
		"boundary_dir": c.BoundaryDir,
		"output_dir":   c.OutputDir,
	} {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}
	if c.LayerNameToken < 0 {
		return fmt.Errorf("layer_name_token must be >= 0")
	}
	if c.LoadWorkers <= 0 {
		return fmt.Errorf("load_workers must be > 0")
	}

	f := c.Boundary.Fields
	if f.ID == "" || f.Country == "" || f.Region == "" || f.Perimeter == "" || f.Area == "" {
		return fmt.Errorf("boundary.fields.{id,country,region,perimeter,area} must all be set")
	}

	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required when database.enabled is true")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	}

	return nil
}

// Load parses config from defaults, the optional YAML file and GEOAGG_* env
// vars, in that order, then validates it.
func Load(configPath string) (*Config, error) {
	return LoadWithOverrides(configPath, nil)
}

// LoadWithOverrides is Load with command-line values applied last, keyed by
// koanf path (e.g. "years", "subcategory").
func LoadWithOverrides(configPath string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"data_root":                 "data",
		"boundary_source":           "",
		"years":                     []string{},
		"subcategory":               false,
		"category_field":            "fclass",
		"source_crs":                string(crs.WGS84),
		"features_dir":              "POI",
		"boundary_dir":              "Prefectures",
		"output_dir":                "Aggregated_prefecture",
		"layer_name_token":          2,
		"load_workers":              1,
		"strict_geometry":           false,
		"continue_on_error":         true,
		"manifest":                  true,
		"boundary.fields.id":        "OBJECTID",
		"boundary.fields.country":   "admin0Name",
		"boundary.fields.region":    "admin1Name",
		"boundary.fields.perimeter": "Shape_Leng",
		"boundary.fields.area":      "Shape_Area",
		"metrics.textfile":          "",
		"database.enabled":          false,
		"database.dsn":              "",
		"database.max_open_conns":   5,
		"database.max_idle_conns":   5,
		"database.auto_migrate":     true,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to apply override %q: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
