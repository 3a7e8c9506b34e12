// Package evidence enthält die quellenspezifischen Payload-Varianten der Evidenz-Einträge.
//
// Jede Quelle hat genau eine Variante mit eigener Schema-Version. Gespeichert wird das
// JSON der Variante; beim Lesen wird anhand des Quellennamens dekodiert und validiert.
package evidence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Quellennamen.
const (
	SourceHGNC             = "hgnc"
	SourceMyGene           = "mygene"
	SourcePubMed           = "pubmed"
	SourceEuropePMC        = "europepmc"
	SourceClinVar          = "clinvar"
	SourceDiagnosticPanels = "diagnostic_panels"
	SourceLiterature       = "literature"
)

// ErrUnknownSource wird für Quellen ohne registrierte Variante zurückgegeben.
var ErrUnknownSource = errors.New("unknown evidence source")

// ErrInvalidPayload markiert Payloads, die nicht dem Schema ihrer Variante entsprechen.
var ErrInvalidPayload = errors.New("invalid evidence payload")

// Payload ist eine Variante der getaggten Union.
type Payload interface {
	Source() string
	Version() int
	Validate() error
	// SubScore liefert den normierten Beitrag in [0,1]; ok=false schließt die Quelle aus.
	SubScore() (score float64, ok bool)
	// Metrics liefert numerische Kennzahlen für die Perzentil-Berechnung.
	Metrics() map[string]float64
}

// IdentifierSet wird von Hybrid-Quellen mit mehrwertigen Identifiern implementiert.
type IdentifierSet interface {
	Payload
	Identifiers() []string
	SetIdentifiers(ids []string)
}

var registry = map[string]func() Payload{
	SourceHGNC:             func() Payload { return &HGNC{} },
	SourceMyGene:           func() Payload { return &MyGene{} },
	SourcePubMed:           func() Payload { return &PubMed{} },
	SourceEuropePMC:        func() Payload { return &EuropePMC{} },
	SourceClinVar:          func() Payload { return &ClinVar{} },
	SourceDiagnosticPanels: func() Payload { return &DiagnosticPanels{} },
	SourceLiterature:       func() Payload { return &Literature{} },
}

// New erzeugt eine leere Variante für eine Quelle.
func New(source string) (Payload, error) {
	ctor, ok := registry[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return ctor(), nil
}

// Known meldet, ob für die Quelle eine Variante registriert ist.
func Known(source string) bool {
	_, ok := registry[source]
	return ok
}

// Decode dekodiert und validiert ein gespeichertes Payload anhand seiner Quelle.
func Decode(source string, raw []byte) (Payload, error) {
	p, err := New(source)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, source, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, source, err)
	}
	return p, nil
}

// Encode serialisiert ein Payload inklusive Schema-Version.
func Encode(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, p.Source(), err)
	}
	return json.Marshal(p)
}

func checkVersion(got, want int) error {
	if got != want {
		return fmt.Errorf("schema_version %d, expected %d", got, want)
	}
	return nil
}

// normalizeSet sortiert und entdupliziert Identifier.
func normalizeSet(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Union vereinigt zwei Identifier-Mengen.
func Union(a, b []string) []string {
	return normalizeSet(append(append([]string{}, a...), b...))
}

// Without entfernt einen Identifier aus der Menge.
func Without(ids []string, target string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Contains prüft, ob der Identifier enthalten ist.
func Contains(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
