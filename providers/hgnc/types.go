// Package hgnc löst Gensymbole über die HGNC REST API auf.
package hgnc

// Response ist der Solr-Umschlag der HGNC REST API (/fetch und /search).
type Response struct {
	Response struct {
		NumFound int   `json:"numFound"`
		Docs     []Doc `json:"docs"`
	} `json:"response"`
}

// Doc ist ein Gen-Eintrag. /search liefert nur hgnc_id und symbol.
type Doc struct {
	HGNCID      string   `json:"hgnc_id"`
	Symbol      string   `json:"symbol"`
	Name        string   `json:"name"`
	LocusGroup  string   `json:"locus_group"`
	AliasSymbol []string `json:"alias_symbol"`
}
