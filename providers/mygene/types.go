// Package mygene holt Kreuzreferenzen (Entrez, Ensembl) über MyGene.info.
package mygene

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Hit ist ein Element der Antwort von POST /query. Nicht gefundene Symbole
// kommen mit notfound=true zurück.
type Hit struct {
	Query      string          `json:"query"`
	NotFound   bool            `json:"notfound"`
	EntrezGene flexString      `json:"entrezgene"`
	Ensembl    json.RawMessage `json:"ensembl"`
	TypeOfGene string          `json:"type_of_gene"`
	Summary    string          `json:"summary"`
	Score      float64         `json:"_score"`
}

// flexString akzeptiert Zahlen und Strings (entrezgene ist je nach Version beides).
type flexString string

func (s *flexString) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		*s = ""
		return nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

type ensemblRef struct {
	Gene string `json:"gene"`
}

// EnsemblGene liefert die erste Ensembl-Gen-ID; das Feld ist Objekt oder Liste.
func (h Hit) EnsemblGene() string {
	raw := bytes.TrimSpace(h.Ensembl)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '[' {
		var refs []ensemblRef
		if err := json.Unmarshal(raw, &refs); err != nil || len(refs) == 0 {
			return ""
		}
		return refs[0].Gene
	}
	var ref ensemblRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return ""
	}
	return strings.TrimSpace(ref.Gene)
}
