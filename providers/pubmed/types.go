// Package pubmed zählt Publikationen zu einem Gen über NCBI E-utilities.
package pubmed

// ESearchResponse repräsentiert die JSON-Antwort von ESearch.
type ESearchResponse struct {
	ESearchResult struct {
		Count  string   `json:"count"`
		IdList []string `json:"idlist"`
		// ERROR ist gesetzt, wenn NCBI die Anfrage nicht verarbeiten konnte.
		Error string `json:"ERROR"`
	} `json:"esearchresult"`
}
