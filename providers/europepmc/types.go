// Package europepmc zählt Literaturtreffer zu einem Gen über die Europe PMC REST API.
package europepmc

// SearchResponse ist die Top-Level-Struktur der Europe PMC API-Antwort.
// HitCount ist ein Zeiger, damit ein fehlendes Feld von 0 unterscheidbar bleibt.
type SearchResponse struct {
	Version    string `json:"version"`
	HitCount   *int   `json:"hitCount"`
	ResultList *struct {
		Result []Article `json:"result"`
	} `json:"resultList"`
}

// Article repräsentiert einen einzelnen Treffer (resultType=idlist).
type Article struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	PMID   string `json:"pmid"`
}
