package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/berntpopp/kidney-genetics-db-sub000/evidence"
)

// uploadRow ist eine Zeile einer Upload-Datei vor der Normalisierung.
type uploadRow struct {
	Symbol      string
	Identifiers []string
}

// jsonRow akzeptiert sowohl "identifier" als auch "identifiers" (bzw. die Feldnamen der Varianten).
type jsonRow struct {
	Symbol       string   `json:"symbol"`
	Gene         string   `json:"gene"`
	Identifier   string   `json:"identifier"`
	Identifiers  []string `json:"identifiers"`
	Providers    []string `json:"providers"`
	Publications []string `json:"publications"`
}

var errEmptyUpload = errors.New("upload contains no rows")

// parseUpload liest JSON (Liste von Objekten oder Symbolen, optional unter "genes")
// oder CSV/TSV mit Kopfzeile.
func parseUpload(filename string, content []byte) ([]uploadRow, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, errEmptyUpload
	}
	ext := strings.ToLower(path.Ext(filename))
	if ext == ".json" || trimmed[0] == '[' || trimmed[0] == '{' {
		return parseJSONUpload(trimmed)
	}
	sep := ','
	if ext == ".tsv" || (ext != ".csv" && bytes.Count(firstLine(trimmed), []byte("\t")) > 0) {
		sep = '\t'
	}
	return parseCSVUpload(trimmed, sep)
}

func parseJSONUpload(content []byte) ([]uploadRow, error) {
	if content[0] == '{' {
		var wrapped struct {
			Genes json.RawMessage `json:"genes"`
		}
		if err := json.Unmarshal(content, &wrapped); err != nil {
			return nil, fmt.Errorf("malformed json: %w", err)
		}
		if len(wrapped.Genes) == 0 {
			return nil, errEmptyUpload
		}
		content = wrapped.Genes
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("malformed json: %w", err)
	}
	rows := make([]uploadRow, 0, len(raw))
	for i, item := range raw {
		var symbol string
		if err := json.Unmarshal(item, &symbol); err == nil {
			rows = append(rows, uploadRow{Symbol: symbol})
			continue
		}
		var r jsonRow
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		sym := r.Symbol
		if sym == "" {
			sym = r.Gene
		}
		ids := append(append(append([]string{}, r.Identifiers...), r.Providers...), r.Publications...)
		if r.Identifier != "" {
			ids = append(ids, r.Identifier)
		}
		rows = append(rows, uploadRow{Symbol: sym, Identifiers: ids})
	}
	if len(rows) == 0 {
		return nil, errEmptyUpload
	}
	return rows, nil
}

func parseCSVUpload(content []byte, sep rune) ([]uploadRow, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("malformed csv header: %w", err)
	}
	symbolCol, idCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "symbol", "gene", "gene_symbol", "approved_symbol":
			symbolCol = i
		case "identifier", "identifiers", "provider", "providers", "publication", "publications", "pmid":
			idCol = i
		}
	}
	if symbolCol < 0 {
		return nil, errors.New("csv header has no symbol column")
	}

	var rows []uploadRow
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if symbolCol >= len(rec) {
			rows = append(rows, uploadRow{})
			continue
		}
		row := uploadRow{Symbol: rec[symbolCol]}
		if idCol >= 0 && idCol < len(rec) {
			row.Identifiers = splitIdentifiers(rec[idCol])
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errEmptyUpload
	}
	return rows, nil
}

// splitIdentifiers trennt mehrwertige Zellen an ';' oder '|'.
func splitIdentifiers(cell string) []string {
	fields := strings.FieldsFunc(cell, func(r rune) bool { return r == ';' || r == '|' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i]
	}
	return b
}

// normalizedUpload fasst die Zeilen pro kanonischem Symbol zusammen.
type normalizedUpload struct {
	Symbols     []string
	Identifiers map[string][]string
	Filtered    int
}

// normalizeRows normalisiert Symbole und vereinigt Identifier. Zeilen mit ungültigem Symbol
// oder ohne Identifier werden gezählt und verworfen. Im replace-Modus gilt nur der Ziel-Identifier.
func normalizeRows(rows []uploadRow, mode UploadMode, identifier string) normalizedUpload {
	out := normalizedUpload{Identifiers: make(map[string][]string)}
	for _, row := range rows {
		sym := evidence.NormalizeSymbol(row.Symbol)
		if sym == "" {
			out.Filtered++
			continue
		}
		var ids []string
		switch {
		case mode == ModeReplace:
			ids = []string{identifier}
		case identifier != "":
			ids = append(trimAll(row.Identifiers), identifier)
		default:
			ids = trimAll(row.Identifiers)
		}
		if len(ids) == 0 {
			out.Filtered++
			continue
		}
		out.Identifiers[sym] = evidence.Union(out.Identifiers[sym], ids)
	}
	for sym := range out.Identifiers {
		out.Symbols = append(out.Symbols, sym)
	}
	sort.Strings(out.Symbols)
	return out
}

func trimAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
