package access

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	serviceerrors "github.com/R3E-Network/access_layer/internal/errors"
	"github.com/R3E-Network/access_layer/internal/tier"
)

// Catalog maps feature ids to the minimum tier required to use them. A Catalog
// is immutable once built.
type Catalog struct {
	features map[string]tier.Tier
}

// NewCatalog builds a catalog from features. Empty ids and undefined tiers are rejected.
func NewCatalog(features map[string]tier.Tier) (*Catalog, error) {
	if len(features) == 0 {
		return nil, serviceerrors.InvalidCatalog("feature catalog is empty", nil)
	}
	c := &Catalog{features: make(map[string]tier.Tier, len(features))}
	for id, required := range features {
		if strings.TrimSpace(id) == "" {
			return nil, serviceerrors.InvalidCatalog("feature id is empty", nil)
		}
		if !required.Valid() {
			return nil, serviceerrors.InvalidCatalog(fmt.Sprintf("feature %s: undefined tier %d", id, required), nil)
		}
		c.features[id] = required
	}
	return c, nil
}

// DefaultCatalog returns the built-in feature catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(map[string]tier.Tier{
		"whale-tracker":           tier.EntryLevel,
		"sniper-bot":              tier.EntryLevel,
		"mev-extraction":          tier.Operator,
		"flash-loan-engine":       tier.Operator,
		"liquidity-drain-scanner": tier.ShadowElite,
		"dark-pool-access":        tier.ShadowElite,
		"quantum-manipulator":     tier.PhantomCouncil,
	})
	if err != nil {
		panic(err)
	}
	return c
}

// RequiredTier returns the tier featureID requires and whether it is known.
func (c *Catalog) RequiredTier(featureID string) (tier.Tier, bool) {
	t, ok := c.features[featureID]
	return t, ok
}

// Len returns the number of features.
func (c *Catalog) Len() int {
	return len(c.features)
}

// Feature is one catalog entry.
type Feature struct {
	ID           string    `json:"id"`
	RequiredTier tier.Tier `json:"required_tier"`
}

// Features returns the catalog ordered by required tier, then id.
func (c *Catalog) Features() []Feature {
	out := make([]Feature, 0, len(c.features))
	for id, t := range c.features {
		out = append(out, Feature{ID: id, RequiredTier: t})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequiredTier != out[j].RequiredTier {
			return out[i].RequiredTier < out[j].RequiredTier
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// catalogFile is the on-disk catalog format:
//
//	features:
//	  whale-tracker: ENTRY_LEVEL
//	  quantum-manipulator: PHANTOM_COUNCIL
type catalogFile struct {
	Features map[string]string `yaml:"features"`
}

// ParseCatalog decodes a YAML catalog. Any malformed entry fails the whole load.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, serviceerrors.InvalidCatalog("failed to parse feature catalog", err)
	}

	features := make(map[string]tier.Tier, len(f.Features))
	for id, name := range f.Features {
		t, err := tier.Parse(name)
		if err != nil {
			return nil, serviceerrors.InvalidCatalog(fmt.Sprintf("feature %s", id), err)
		}
		features[id] = t
	}
	return NewCatalog(features)
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, serviceerrors.InvalidCatalog("failed to read feature catalog", err)
	}
	return ParseCatalog(data)
}
