package compliance

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

//go:embed catalog/offenses.yaml
var defaultCatalogYAML []byte

// OffenseCatalogEntry is static reference data describing one offense type.
type OffenseCatalogEntry struct {
	ID                    string   `json:"id" yaml:"id"`
	Category              string   `json:"category" yaml:"category"`
	Statute               string   `json:"statute" yaml:"statute"`
	Article               string   `json:"article" yaml:"article"`
	Description           string   `json:"description" yaml:"description"`
	AppliesToOrganization bool     `json:"applies_to_organization" yaml:"applies_to_organization"`
	BaseRiskLevel         Severity `json:"base_risk_level" yaml:"base_risk_level"`
	Keywords              []string `json:"keywords" yaml:"keywords"`
}

// catalogFile is the on-disk YAML layout.
type catalogFile struct {
	Version  string                `yaml:"version"`
	Offenses []OffenseCatalogEntry `yaml:"offenses"`
}

// compiledEntry pairs an entry with its folded, de-duplicated keywords.
type compiledEntry struct {
	entry  OffenseCatalogEntry
	folded []string
}

// Catalog is the immutable, validated offense catalogue.  It is built once
// and shared read-only by every matcher.
type Catalog struct {
	version string
	entries []compiledEntry
	byID    map[string]int
}

// NewCatalog validates entries and compiles their keywords.  Any malformed
// entry is a catalogue integrity error.
func NewCatalog(version string, entries []OffenseCatalogEntry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, errors.CatalogueIntegrity("offense catalogue is empty")
	}
	c := &Catalog{version: version, byID: make(map[string]int, len(entries))}
	for _, e := range entries {
		id := strings.TrimSpace(e.ID)
		switch {
		case id == "":
			return nil, errors.CatalogueIntegrity("offense entry without id")
		case e.Statute == "":
			return nil, errors.CatalogueIntegrity("offense entry without statute").WithDetail(id)
		case !e.BaseRiskLevel.IsValid():
			return nil, errors.CatalogueIntegrity("offense entry with unknown base risk level").WithDetail(id)
		}
		if _, dup := c.byID[id]; dup {
			return nil, errors.CatalogueIntegrity("duplicate offense id").WithDetail(id)
		}
		folded := foldKeywords(e.Keywords)
		if len(folded) == 0 {
			return nil, errors.CatalogueIntegrity("offense entry without keywords").WithDetail(id)
		}
		e.ID = id
		e.Keywords = append([]string(nil), e.Keywords...)
		c.byID[id] = len(c.entries)
		c.entries = append(c.entries, compiledEntry{entry: e, folded: folded})
	}
	return c, nil
}

// ParseCatalogYAML decodes and validates a catalogue document.
func ParseCatalogYAML(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.CatalogueIntegrity("offense catalogue is not valid YAML").WithCause(err)
	}
	return NewCatalog(f.Version, f.Offenses)
}

// LoadCatalogFile reads a catalogue from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.CatalogueIntegrity("cannot read offense catalogue").WithDetail(path).WithCause(err)
	}
	return ParseCatalogYAML(data)
}

// DefaultCatalog returns the embedded catalogue.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalogYAML(defaultCatalogYAML)
}

// LoadCatalog returns the file at path, or the embedded catalogue when path
// is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	return LoadCatalogFile(path)
}

// Version returns the catalogue's declared version.
func (c *Catalog) Version() string { return c.version }

// Len returns the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

// Entry returns a copy of the entry with the given id.
func (c *Catalog) Entry(id string) (OffenseCatalogEntry, bool) {
	i, ok := c.byID[id]
	if !ok {
		return OffenseCatalogEntry{}, false
	}
	return copyEntry(c.entries[i].entry), true
}

// Entries returns copies of all entries sorted by id.
func (c *Catalog) Entries() []OffenseCatalogEntry {
	out := make([]OffenseCatalogEntry, 0, len(c.entries))
	for _, ce := range c.entries {
		out = append(out, copyEntry(ce.entry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyEntry(e OffenseCatalogEntry) OffenseCatalogEntry {
	e.Keywords = append([]string(nil), e.Keywords...)
	return e
}

func foldKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		f := strings.TrimSpace(Fold(k))
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
