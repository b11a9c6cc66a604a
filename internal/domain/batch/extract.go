package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ExtractFile reads a batch input file and normalizes every row to the
// JSON object shape the domain operations decode. The format is chosen by
// extension: .csv and .xlsx are tabular with a header row, .json is an
// array of objects passed through as-is.
func ExtractFile(path string) ([]json.RawMessage, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open batch input: %w", err)
		}
		defer f.Close()
		return ExtractCSV(f)
	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open batch input: %w", err)
		}
		defer f.Close()
		return ExtractJSON(f)
	case ".xlsx":
		return ExtractXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported batch input format %q", filepath.Ext(path))
	}
}

// ExtractJSON reads an array of input objects.
func ExtractJSON(r io.Reader) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	dec := json.NewDecoder(r)
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode batch input: %w", err)
	}
	return rows, nil
}

// ExtractCSV reads a header row plus one input row per line.
func ExtractCSV(r io.Reader) ([]json.RawMessage, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.ToLower(header[i]))
	}

	var rows []json.RawMessage
	for {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		row, err := normalizeRow(header, cells)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ExtractXLSX reads the first sheet of a workbook the same way as a CSV.
func ExtractXLSX(path string) ([]json.RawMessage, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	header := all[0]
	for i := range header {
		header[i] = strings.TrimSpace(strings.ToLower(header[i]))
	}
	var rows []json.RawMessage
	for _, cells := range all[1:] {
		row, err := normalizeRow(header, cells)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// normalizeRow maps one tabular row to the nested object shape. Line-item
// columns fold into a single-entry services array; a diagnoses cell may
// carry several codes separated by semicolons.
func normalizeRow(header, cells []string) (json.RawMessage, error) {
	obj := make(map[string]interface{}, len(header))
	service := make(map[string]interface{})

	for i, key := range header {
		if i >= len(cells) {
			break
		}
		val := strings.TrimSpace(cells[i])
		if val == "" {
			continue
		}
		switch key {
		case "code", "description":
			service[key] = val
		case "quantity":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("row quantity %q: %w", val, err)
			}
			service["quantity"] = n
		case "unit_price":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("row unit_price %q: %w", val, err)
			}
			service["unit_price"] = f
		case "diagnoses":
			var codes []string
			for _, dx := range strings.Split(val, ";") {
				if dx = strings.TrimSpace(dx); dx != "" {
					codes = append(codes, dx)
				}
			}
			obj[key] = codes
		case "purpose":
			var purposes []string
			for _, p := range strings.Split(val, ";") {
				if p = strings.TrimSpace(p); p != "" {
					purposes = append(purposes, p)
				}
			}
			obj[key] = purposes
		default:
			obj[key] = val
		}
	}
	if len(service) > 0 {
		obj["services"] = []map[string]interface{}{service}
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", err)
	}
	return raw, nil
}
