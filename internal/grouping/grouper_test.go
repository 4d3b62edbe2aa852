package grouping

import (
	"testing"

	"docpipe/internal/domain/docModel"
)

func TestParseFilename(t *testing.T) {
	cases := []struct {
		filename string
		wantBase string
		wantPage int
	}{
		{"Invoice 1.png", "Invoice", 1},
		{"Invoice 2.png", "Invoice", 2},
		{"Invoice_2.jpg", "Invoice", 2},
		{"Invoice-3.pdf", "Invoice", 3},
		{"InvoicePage2.png", "Invoice", 2},
		{"invoice page 10.png", "invoice page", 10},
		{"Letter.pdf", "Letter", 1},
		{"Scan_001.png", "Scan", 1},
		{"7.png", "7", 1},
		{"cases/A-101/Invoice 2.png", "Invoice", 2},
	}

	for _, tc := range cases {
		t.Run(tc.filename, func(t *testing.T) {
			base, page := ParseFilename(tc.filename)
			if base != tc.wantBase || page != tc.wantPage {
				t.Errorf("ParseFilename(%q) = (%q, %d), want (%q, %d)",
					tc.filename, base, page, tc.wantBase, tc.wantPage)
			}
		})
	}
}

func TestGroupCase(t *testing.T) {
	pages := []docModel.PageRef{
		{Path: "A-101/Invoice 2.png", MIMEType: "image/png"},
		{Path: "A-101/Letter.pdf", MIMEType: "application/pdf"},
		{Path: "A-101/Invoice 1.png", MIMEType: "image/png"},
	}

	groups := GroupCase("A-101", pages)

	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}

	t.Run("Groups sorted by base name", func(t *testing.T) {
		if groups[0].BaseName != "Invoice" || groups[1].BaseName != "Letter" {
			t.Errorf("Unexpected group order: %q, %q", groups[0].BaseName, groups[1].BaseName)
		}
	})

	t.Run("Pages sorted by page number", func(t *testing.T) {
		invoice := groups[0]
		if len(invoice.Pages) != 2 {
			t.Fatalf("Expected 2 invoice pages, got %d", len(invoice.Pages))
		}
		if invoice.Pages[0].PageIndex != 1 || invoice.Pages[1].PageIndex != 2 {
			t.Errorf("Pages out of order: %d, %d",
				invoice.Pages[0].PageIndex, invoice.Pages[1].PageIndex)
		}
	})

	t.Run("Case ID carried onto every group", func(t *testing.T) {
		for _, g := range groups {
			if g.CaseID != "A-101" {
				t.Errorf("Group %q has case ID %q", g.BaseName, g.CaseID)
			}
		}
	})
}

func TestGroupCase_EveryFileLandsInAGroup(t *testing.T) {
	pages := []docModel.PageRef{
		{Path: "c/weird~~name~~.png"},
		{Path: "c/123.png"},
		{Path: "c/Invoice 1.png"},
	}
	groups := GroupCase("c", pages)

	total := 0
	for _, g := range groups {
		total += len(g.Pages)
	}
	if total != len(pages) {
		t.Errorf("Grouping dropped files: %d in, %d out", len(pages), total)
	}
}
