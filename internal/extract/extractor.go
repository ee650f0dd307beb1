// Package extract reads the rounds-of-invitations table out of page markup.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crs-draws-etl/internal/etl"
)

// Column positions of the draw table. Column 0 is the round number.
const (
	colDate        = 1
	colProgram     = 2
	colInvitations = 3
	colLowestCRS   = 4
)

// ErrNoTableBody is returned when the markup holds no tbody element.
var ErrNoTableBody = errors.New("no table body found")

// Extractor implements etl.Extractor with goquery.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract reads every data row of the first table body. Rows without td cells
// (section headers, separators) are skipped; a data row with fewer than five
// cells fails the extraction.
func (e *Extractor) Extract(html string) ([]etl.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &etl.ParseError{Row: -1, Err: fmt.Errorf("read markup: %w", err)}
	}
	body := doc.Find("tbody").First()
	if body.Length() == 0 {
		return nil, &etl.ParseError{Row: -1, Err: ErrNoTableBody}
	}

	records := []etl.RawRecord{}
	var rowErr error
	body.Find("tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return true
		}
		if cells.Length() <= colLowestCRS {
			rowErr = &etl.ParseError{
				Row: i,
				Err: fmt.Errorf("expected at least %d cells, got %d", colLowestCRS+1, cells.Length()),
			}
			return false
		}
		records = append(records, etl.RawRecord{
			Date:        cells.Eq(colDate).Text(),
			Program:     cells.Eq(colProgram).Text(),
			Invitations: cells.Eq(colInvitations).Text(),
			LowestCRS:   cells.Eq(colLowestCRS).Text(),
		})
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return records, nil
}
