package dataset

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// readCSV parses a numeric CSV into column names and rows. Cells that are
// empty or non-numeric become NaN. Files that are not valid UTF-8 are
// decoded as Windows-1252 before parsing.
func readCSV(path string) ([]string, [][]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, nil, err
	}

	if !utf8.Valid(raw) {
		decoded, _, derr := transform.Bytes(charmap.Windows1252.NewDecoder(), raw)
		if derr != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", path, derr)
		}
		raw = decoded
	}

	reader := csv.NewReader(strings.NewReader(string(raw)))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("dataset %s has no data rows", path)
	}

	header := records[0]
	columns := make([]string, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = "row_id"
		}
		columns[i] = name
	}

	rows := make([][]float64, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make([]float64, len(columns))
		for i := range row {
			row[i] = math.NaN()
			if i < len(record) {
				cell := strings.TrimSpace(record[i])
				if cell == "" || strings.EqualFold(cell, "na") {
					continue
				}
				if v, err := strconv.ParseFloat(cell, 64); err == nil {
					row[i] = v
				}
			}
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}
