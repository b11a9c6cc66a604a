package batch

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractCSV(t *testing.T) {
	csv := strings.Join([]string{
		"member_id,payer_id,service_date,purpose",
		"1234567890,7000911508,2025-10-22,benefits;validation",
		"9876543210,7000911508,2025-10-23,",
	}, "\n")

	rows, err := ExtractCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ExtractCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	var first struct {
		MemberID    string   `json:"member_id"`
		PayerID     string   `json:"payer_id"`
		ServiceDate string   `json:"service_date"`
		Purpose     []string `json:"purpose"`
	}
	if err := json.Unmarshal(rows[0], &first); err != nil {
		t.Fatalf("decode row: %v", err)
	}
	if first.MemberID != "1234567890" || first.ServiceDate != "2025-10-22" {
		t.Fatalf("row = %+v", first)
	}
	if len(first.Purpose) != 2 || first.Purpose[0] != "benefits" {
		t.Fatalf("purpose = %v", first.Purpose)
	}
}

func TestExtractCSVFoldsLineItems(t *testing.T) {
	csv := strings.Join([]string{
		"claim_id,member_id,payer_id,service_date,diagnoses,code,quantity,unit_price",
		"CLM-1,1234567890,7000911508,2025-10-22,J06.9;R50.9,99213,1,150.00",
	}, "\n")

	rows, err := ExtractCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ExtractCSV: %v", err)
	}

	var row struct {
		ClaimID   string   `json:"claim_id"`
		Diagnoses []string `json:"diagnoses"`
		Services  []struct {
			Code      string  `json:"code"`
			Quantity  int     `json:"quantity"`
			UnitPrice float64 `json:"unit_price"`
		} `json:"services"`
	}
	if err := json.Unmarshal(rows[0], &row); err != nil {
		t.Fatalf("decode row: %v", err)
	}
	if len(row.Diagnoses) != 2 || row.Diagnoses[1] != "R50.9" {
		t.Fatalf("diagnoses = %v", row.Diagnoses)
	}
	if len(row.Services) != 1 {
		t.Fatalf("services = %+v", row.Services)
	}
	svc := row.Services[0]
	if svc.Code != "99213" || svc.Quantity != 1 || svc.UnitPrice != 150.00 {
		t.Fatalf("service = %+v", svc)
	}
}

func TestExtractCSVBadQuantity(t *testing.T) {
	csv := "code,quantity\n99213,one\n"
	if _, err := ExtractCSV(strings.NewReader(csv)); err == nil {
		t.Fatal("expected error for non-numeric quantity")
	}
}

func TestExtractJSON(t *testing.T) {
	body := `[{"member_id":"1234567890","services":[{"code":"99213","quantity":1,"unit_price":150.00}]}]`
	rows, err := ExtractJSON(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}

	var row struct {
		Services []struct {
			Code string `json:"code"`
		} `json:"services"`
	}
	if err := json.Unmarshal(rows[0], &row); err != nil {
		t.Fatalf("decode row: %v", err)
	}
	if len(row.Services) != 1 || row.Services[0].Code != "99213" {
		t.Fatalf("row = %+v", row)
	}
}

func TestExtractXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"member_id", "payer_id", "service_date"},
		{"1234567890", "7000911508", "2025-10-22"},
	}
	for i, cells := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	f.Close()

	out, err := ExtractXLSX(path)
	if err != nil {
		t.Fatalf("ExtractXLSX: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d rows, want 1", len(out))
	}
	var row struct {
		MemberID string `json:"member_id"`
	}
	if err := json.Unmarshal(out[0], &row); err != nil {
		t.Fatalf("decode row: %v", err)
	}
	if row.MemberID != "1234567890" {
		t.Fatalf("member_id = %q", row.MemberID)
	}
}

func TestExtractFileUnsupported(t *testing.T) {
	if _, err := ExtractFile("input.parquet"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
