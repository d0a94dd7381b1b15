package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// GeometrySpec locates a parcel geometry layer
type GeometrySpec struct {
	Path      string `yaml:"path" validate:"required"`
	CRS       string `yaml:"crs"`
	IDField   string `yaml:"id_field" validate:"required"`
	TownField string `yaml:"town_field"`
	// Point columns for CSV layers
	XField string `yaml:"x_field"`
	YField string `yaml:"y_field"`
}

// Municipality lists one municipality's inputs
type Municipality struct {
	Name          string        `yaml:"name" validate:"required"`
	Spreadsheet   string        `yaml:"spreadsheet" validate:"required"`
	Supplementary string        `yaml:"supplementary"`
	Geometry      *GeometrySpec `yaml:"geometry"`
	ExpectedRows  int           `yaml:"expected_rows" validate:"gte=0"`
}

// Manifest is the ordered list of municipalities for a run
type Manifest struct {
	Region         string         `yaml:"region"`
	SharedGeometry *GeometrySpec  `yaml:"shared_geometry"`
	Municipalities []Municipality `yaml:"municipalities" validate:"required,min=1,dive"`

	dir string
}

var errDuplicateMunicipality = errors.New("duplicate municipality")

// LoadManifest parses a YAML manifest. Relative paths are resolved against
// the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	seen := make(map[string]bool)
	for _, mu := range m.Municipalities {
		k := strings.ToUpper(strings.TrimSpace(mu.Name))
		if seen[k] {
			return nil, fmt.Errorf("manifest %s: %w: %s", path, errDuplicateMunicipality, mu.Name)
		}
		seen[k] = true
	}

	m.dir = filepath.Dir(path)
	m.resolve()
	return &m, nil
}

func (m *Manifest) resolve() {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(m.dir, p)
	}
	if m.SharedGeometry != nil {
		m.SharedGeometry.Path = abs(m.SharedGeometry.Path)
	}
	for i := range m.Municipalities {
		mu := &m.Municipalities[i]
		mu.Spreadsheet = abs(mu.Spreadsheet)
		mu.Supplementary = abs(mu.Supplementary)
		if mu.Geometry != nil {
			mu.Geometry.Path = abs(mu.Geometry.Path)
		}
	}
}

// Names returns municipality names in manifest order
func (m *Manifest) Names() []string {
	out := make([]string, len(m.Municipalities))
	for i, mu := range m.Municipalities {
		out[i] = mu.Name
	}
	return out
}

// Find returns the named municipality
func (m *Manifest) Find(name string) (Municipality, bool) {
	for _, mu := range m.Municipalities {
		if strings.EqualFold(mu.Name, name) {
			return mu, true
		}
	}
	return Municipality{}, false
}

// GeometryFor returns the layer for a municipality: its own when declared,
// otherwise the shared layer filtered on the town column.
func (m *Manifest) GeometryFor(mu Municipality) (GeometrySpec, bool) {
	if mu.Geometry != nil {
		return *mu.Geometry, true
	}
	if m.SharedGeometry != nil {
		return *m.SharedGeometry, true
	}
	return GeometrySpec{}, false
}
