package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Tier ordnet einem Mindest-Score ein Label zu.
type Tier struct {
	Label    string  `yaml:"label"`
	MinScore float64 `yaml:"min_score"`
}

// Weights ist die statische Gewichtstabelle für die Score-Berechnung.
type Weights struct {
	Sources map[string]float64 `yaml:"sources"`
	Tiers   []Tier             `yaml:"tiers"`
}

// DefaultWeights wird verwendet, wenn keine Datei vorhanden ist.
func DefaultWeights() *Weights {
	w := &Weights{
		Sources: map[string]float64{
			"diagnostic_panels": 1.0,
			"literature":        1.0,
			"clinvar":           1.0,
			"pubmed":            0.5,
			"europepmc":         0.5,
		},
		Tiers: []Tier{
			{Label: "Very High Confidence", MinScore: 80},
			{Label: "High Confidence", MinScore: 60},
			{Label: "Medium Confidence", MinScore: 40},
			{Label: "Low Confidence", MinScore: 20},
			{Label: "Very Low Confidence", MinScore: 0},
		},
	}
	w.normalize()
	return w
}

// LoadWeights liest die Gewichtstabelle aus einer YAML-Datei.
func LoadWeights(path string) (*Weights, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultWeights(), nil
		}
		return nil, fmt.Errorf("read weights: %w", err)
	}
	return ParseWeights(raw)
}

// ParseWeights dekodiert und prüft eine YAML-Gewichtstabelle.
func ParseWeights(raw []byte) (*Weights, error) {
	var w Weights
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("parse weights: %w", err)
	}
	for src, weight := range w.Sources {
		if weight < 0 {
			return nil, fmt.Errorf("negative weight for source %q", src)
		}
	}
	if len(w.Tiers) == 0 {
		w.Tiers = DefaultWeights().Tiers
	}
	w.normalize()
	return &w, nil
}

func (w *Weights) normalize() {
	sort.SliceStable(w.Tiers, func(i, j int) bool { return w.Tiers[i].MinScore > w.Tiers[j].MinScore })
}

// Weight liefert das Gewicht einer Quelle (0 = nicht gewichtet).
func (w *Weights) Weight(source string) float64 {
	return w.Sources[source]
}

// Total ist die Summe aller konfigurierten Gewichte.
func (w *Weights) Total() float64 {
	var total float64
	for _, v := range w.Sources {
		total += v
	}
	return total
}

// TierFor bildet einen Score auf das Tier-Label ab.
func (w *Weights) TierFor(score float64) string {
	for _, t := range w.Tiers {
		if score > 0 && score >= t.MinScore {
			return t.Label
		}
	}
	return w.LowestTier()
}

// LowestTier ist das Label für Gene ohne Evidenz.
func (w *Weights) LowestTier() string {
	if len(w.Tiers) == 0 {
		return ""
	}
	return w.Tiers[len(w.Tiers)-1].Label
}
