package pool

import (
	"errors"
	"fmt"
	"strings"
)

// Tier buckets clients by performance score.
type Tier string

const (
	TierSmall  Tier = "SMALL"
	TierMedium Tier = "MEDIUM"
	TierLarge  Tier = "LARGE"
)

// Tiers lists every tier from weakest to strongest.
var Tiers = []Tier{TierSmall, TierMedium, TierLarge}

// Tier lower bounds. A score belongs to the highest tier whose bound it
// reaches; LARGE is closed at 100.
const (
	MediumThreshold = 60.0
	LargeThreshold  = 80.0
)

// ErrEmptyTierPool is returned when a tier has no candidate models.
var ErrEmptyTierPool = errors.New("empty model pool")

// DefaultPools binds each tier to its default candidate models.
var DefaultPools = map[Tier][]string{
	TierSmall:  {"llama3.2:1b"},
	TierMedium: {"llama3.2:3b"},
	TierLarge:  {"llama3.1:8b"},
}

// ParseTier accepts tier names case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierSmall:
		return TierSmall, nil
	case TierMedium:
		return TierMedium, nil
	case TierLarge:
		return TierLarge, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// TierFor returns the tier for a score.
func TierFor(score float64) Tier {
	switch {
	case score >= LargeThreshold:
		return TierLarge
	case score >= MediumThreshold:
		return TierMedium
	default:
		return TierSmall
	}
}

// Assignment is the derived scoring state of a client.
type Assignment struct {
	Score float64 `json:"score"`
	Tier  Tier    `json:"tier"`
	Model string  `json:"assigned_model"`
}

// AssignorOptions configures model selection. TierPoolOverride replaces the
// default pool of each tier it names.
type AssignorOptions struct {
	TierPoolOverride map[Tier][]string
}

// Assignor scores capabilities and binds them to a tier and model.
type Assignor struct {
	scorer Scorer
	pools  map[Tier][]string
}

// NewAssignor builds an Assignor. Every tier must end up with a non-empty pool.
func NewAssignor(scorer Scorer, opts AssignorOptions) (*Assignor, error) {
	pools := make(map[Tier][]string, len(Tiers))
	for _, t := range Tiers {
		pools[t] = append([]string(nil), DefaultPools[t]...)
	}
	for t, models := range opts.TierPoolOverride {
		tier, err := ParseTier(string(t))
		if err != nil {
			return nil, err
		}
		var clean []string
		for _, m := range models {
			if m = strings.TrimSpace(m); m != "" {
				clean = append(clean, m)
			}
		}
		pools[tier] = clean
	}
	for _, t := range Tiers {
		if len(pools[t]) == 0 {
			return nil, fmt.Errorf("tier %s: %w", t, ErrEmptyTierPool)
		}
	}
	return &Assignor{scorer: scorer, pools: pools}, nil
}

// Assign maps a score to its tier and the tier's first pool entry.
func (a *Assignor) Assign(score float64) (Tier, string) {
	t := TierFor(score)
	return t, a.pools[t][0]
}

// Evaluate scores a capability and assigns it.
func (a *Assignor) Evaluate(c Capability) Assignment {
	score := a.scorer.Score(c)
	t, m := a.Assign(score)
	return Assignment{Score: score, Tier: t, Model: m}
}

// Pool returns a copy of the candidate models of a tier.
func (a *Assignor) Pool(t Tier) []string {
	return append([]string(nil), a.pools[t]...)
}

// Models returns every configured model id, weakest tier first, without duplicates.
func (a *Assignor) Models() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range Tiers {
		for _, m := range a.pools[t] {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}
