package evidence

import (
	"errors"
	"math"
	"strings"
)

// Schema-Versionen der Varianten.
const (
	HGNCVersion             = 1
	MyGeneVersion           = 1
	PubMedVersion           = 1
	EuropePMCVersion        = 1
	ClinVarVersion          = 1
	DiagnosticPanelsVersion = 1
	LiteratureVersion       = 1
)

// logScore bildet Zähler logarithmisch auf [0,1] ab; saturation ist der Zähler für 1.0.
func logScore(count, saturation float64) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(1, math.Log10(count+1)/math.Log10(saturation+1))
}

// HGNC enthält die Nomenklatur-Annotation.
type HGNC struct {
	SchemaVersion int      `json:"schema_version"`
	HGNCID        string   `json:"hgnc_id"`
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name,omitempty"`
	LocusGroup    string   `json:"locus_group,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
}

func (p *HGNC) Source() string { return SourceHGNC }
func (p *HGNC) Version() int   { return HGNCVersion }

func (p *HGNC) Validate() error {
	if err := checkVersion(p.SchemaVersion, HGNCVersion); err != nil {
		return err
	}
	if p.Symbol == "" {
		return errors.New("symbol is required")
	}
	if !strings.HasPrefix(p.HGNCID, "HGNC:") {
		return errors.New("hgnc_id must start with HGNC:")
	}
	return nil
}

// SubScore: reine Annotation, kein Score-Beitrag.
func (p *HGNC) SubScore() (float64, bool)     { return 0, false }
func (p *HGNC) Metrics() map[string]float64 { return nil }

// MyGene enthält Kreuzreferenzen aus MyGene.info.
type MyGene struct {
	SchemaVersion int    `json:"schema_version"`
	EntrezID      string `json:"entrez_id"`
	EnsemblID     string `json:"ensembl_id,omitempty"`
	TypeOfGene    string `json:"type_of_gene,omitempty"`
	Summary       string `json:"summary,omitempty"`
}

func (p *MyGene) Source() string { return SourceMyGene }
func (p *MyGene) Version() int   { return MyGeneVersion }

func (p *MyGene) Validate() error {
	if err := checkVersion(p.SchemaVersion, MyGeneVersion); err != nil {
		return err
	}
	if p.EntrezID == "" {
		return errors.New("entrez_id is required")
	}
	return nil
}

func (p *MyGene) SubScore() (float64, bool)     { return 0, false }
func (p *MyGene) Metrics() map[string]float64 { return nil }

// PubMed zählt Publikationen zu einem Gen.
type PubMed struct {
	SchemaVersion int    `json:"schema_version"`
	Query         string `json:"query"`
	Count         *int   `json:"count"`
}

func (p *PubMed) Source() string { return SourcePubMed }
func (p *PubMed) Version() int   { return PubMedVersion }

func (p *PubMed) Validate() error {
	if err := checkVersion(p.SchemaVersion, PubMedVersion); err != nil {
		return err
	}
	if p.Count != nil && *p.Count < 0 {
		return errors.New("count must not be negative")
	}
	return nil
}

func (p *PubMed) SubScore() (float64, bool) {
	if p.Count == nil {
		return 0, false
	}
	return logScore(float64(*p.Count), 1000), true
}

func (p *PubMed) Metrics() map[string]float64 {
	if p.Count == nil {
		return nil
	}
	return map[string]float64{"publication_count": float64(*p.Count)}
}

// EuropePMC enthält die Trefferzahl der Literatursuche.
type EuropePMC struct {
	SchemaVersion int    `json:"schema_version"`
	Query         string `json:"query"`
	HitCount      int    `json:"hit_count"`
}

func (p *EuropePMC) Source() string { return SourceEuropePMC }
func (p *EuropePMC) Version() int   { return EuropePMCVersion }

func (p *EuropePMC) Validate() error {
	if err := checkVersion(p.SchemaVersion, EuropePMCVersion); err != nil {
		return err
	}
	if p.HitCount < 0 {
		return errors.New("hit_count must not be negative")
	}
	return nil
}

func (p *EuropePMC) SubScore() (float64, bool) { return logScore(float64(p.HitCount), 1000), true }

func (p *EuropePMC) Metrics() map[string]float64 {
	return map[string]float64{"hit_count": float64(p.HitCount)}
}

// ClinVar zählt Varianten und davon pathogene Varianten.
type ClinVar struct {
	SchemaVersion   int `json:"schema_version"`
	VariantCount    int `json:"variant_count"`
	PathogenicCount int `json:"pathogenic_count"`
}

func (p *ClinVar) Source() string { return SourceClinVar }
func (p *ClinVar) Version() int   { return ClinVarVersion }

func (p *ClinVar) Validate() error {
	if err := checkVersion(p.SchemaVersion, ClinVarVersion); err != nil {
		return err
	}
	if p.VariantCount < 0 || p.PathogenicCount < 0 {
		return errors.New("counts must not be negative")
	}
	if p.PathogenicCount > p.VariantCount {
		return errors.New("pathogenic_count exceeds variant_count")
	}
	return nil
}

func (p *ClinVar) SubScore() (float64, bool) { return logScore(float64(p.PathogenicCount), 100), true }

func (p *ClinVar) Metrics() map[string]float64 {
	return map[string]float64{
		"variant_count":    float64(p.VariantCount),
		"pathogenic_count": float64(p.PathogenicCount),
	}
}

// DiagnosticPanels listet die Anbieter, deren Panels das Gen enthalten.
type DiagnosticPanels struct {
	SchemaVersion int      `json:"schema_version"`
	Providers     []string `json:"providers"`
}

func (p *DiagnosticPanels) Source() string { return SourceDiagnosticPanels }
func (p *DiagnosticPanels) Version() int   { return DiagnosticPanelsVersion }

func (p *DiagnosticPanels) Validate() error {
	if err := checkVersion(p.SchemaVersion, DiagnosticPanelsVersion); err != nil {
		return err
	}
	if len(p.Providers) == 0 {
		return errors.New("providers must not be empty")
	}
	return nil
}

func (p *DiagnosticPanels) SubScore() (float64, bool) {
	return math.Min(1, float64(len(p.Providers))/5), true
}

func (p *DiagnosticPanels) Metrics() map[string]float64 {
	return map[string]float64{"provider_count": float64(len(p.Providers))}
}

func (p *DiagnosticPanels) Identifiers() []string      { return p.Providers }
func (p *DiagnosticPanels) SetIdentifiers(ids []string) { p.Providers = normalizeSet(ids) }

// Literature listet die Publikationen, die das Gen belegen.
type Literature struct {
	SchemaVersion int      `json:"schema_version"`
	Publications  []string `json:"publications"`
}

func (p *Literature) Source() string { return SourceLiterature }
func (p *Literature) Version() int   { return LiteratureVersion }

func (p *Literature) Validate() error {
	if err := checkVersion(p.SchemaVersion, LiteratureVersion); err != nil {
		return err
	}
	if len(p.Publications) == 0 {
		return errors.New("publications must not be empty")
	}
	return nil
}

func (p *Literature) SubScore() (float64, bool) {
	return math.Min(1, float64(len(p.Publications))/10), true
}

func (p *Literature) Metrics() map[string]float64 {
	return map[string]float64{"publication_count": float64(len(p.Publications))}
}

func (p *Literature) Identifiers() []string      { return p.Publications }
func (p *Literature) SetIdentifiers(ids []string) { p.Publications = normalizeSet(ids) }

// NewIdentifierSet erzeugt eine Hybrid-Variante mit den gegebenen Identifiern.
func NewIdentifierSet(source string, ids []string) (IdentifierSet, error) {
	p, err := New(source)
	if err != nil {
		return nil, err
	}
	set, ok := p.(IdentifierSet)
	if !ok {
		return nil, errors.New("source " + source + " has no identifier set")
	}
	switch v := set.(type) {
	case *DiagnosticPanels:
		v.SchemaVersion = DiagnosticPanelsVersion
	case *Literature:
		v.SchemaVersion = LiteratureVersion
	}
	set.SetIdentifiers(ids)
	return set, nil
}

// IsHybrid meldet, ob die Quelle manuell kuratierte Identifier-Mengen führt.
func IsHybrid(source string) bool {
	p, err := New(source)
	if err != nil {
		return false
	}
	_, ok := p.(IdentifierSet)
	return ok
}
