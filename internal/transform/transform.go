// Package transform normalizes raw draw rows into typed records.
package transform

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/JakeFAU/crs-draws-etl/internal/etl"
)

// DateLayout is the canonical output format for draw dates.
const DateLayout = "2006-01-02"

// Field names used in parse errors.
const (
	FieldDate        = "date"
	FieldProgram     = "program"
	FieldInvitations = "invitations"
	FieldLowestCRS   = "lowest_crs"
)

// layouts the source site is known to use; anything else goes to dateparse.
var layouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02",
}

// "Jan." -> "Jan", "Sept." -> "Sept"
var abbrevDot = regexp.MustCompile(`([A-Za-z]{3,4})\.`)

// Transformer implements etl.Transformer.
type Transformer struct{}

// New returns a Transformer.
func New() *Transformer {
	return &Transformer{}
}

// Transform returns a new dataset with dates in YYYY-MM-DD form and counts as
// integers. The first field that cannot be parsed fails the whole dataset.
func (t *Transformer) Transform(raw []etl.RawRecord) (etl.Dataset, error) {
	ds := make(etl.Dataset, 0, len(raw))
	for i, r := range raw {
		rec, err := transformRecord(r)
		if err != nil {
			var pe *etl.ParseError
			if errors.As(err, &pe) {
				pe.Row = i
			}
			return nil, err
		}
		ds = append(ds, rec)
	}
	return ds, nil
}

func transformRecord(r etl.RawRecord) (etl.Record, error) {
	date, err := ParseDate(r.Date)
	if err != nil {
		return etl.Record{}, &etl.ParseError{Field: FieldDate, Value: r.Date, Err: err}
	}
	invitations, err := ParseCount(r.Invitations)
	if err != nil {
		return etl.Record{}, &etl.ParseError{Field: FieldInvitations, Value: r.Invitations, Err: err}
	}
	score, err := ParseScore(r.LowestCRS)
	if err != nil {
		return etl.Record{}, &etl.ParseError{Field: FieldLowestCRS, Value: r.LowestCRS, Err: err}
	}
	return etl.Record{
		Date:        date,
		Program:     collapseSpace(r.Program),
		Invitations: invitations,
		LowestCRS:   score,
	}, nil
}

// ParseDate converts a free-text date ("March 6, 2024", "Jan. 17, 2023") to
// YYYY-MM-DD. Ambiguous numeric dates are read month first.
func ParseDate(s string) (string, error) {
	clean := normalizeDate(s)
	if clean == "" {
		return "", errors.New("empty date")
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, clean); err == nil {
			return ts.Format(DateLayout), nil
		}
	}
	// dateparse reads mm/dd/yyyy unless the first number cannot be a month.
	ts, err := dateparse.ParseIn(clean, time.UTC)
	if err != nil {
		return "", fmt.Errorf("parse date: %w", err)
	}
	return ts.Format(DateLayout), nil
}

// ParseCount strips thousands separators and parses an integer count.
func ParseCount(s string) (int, error) {
	return ParseScore(strings.ReplaceAll(s, ",", ""))
}

// ParseScore parses an integer that carries no separators.
func ParseScore(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse integer: %w", err)
	}
	return n, nil
}

func normalizeDate(s string) string {
	s = abbrevDot.ReplaceAllString(collapseSpace(s), "$1")
	// time.Parse knows "Sep" but not "Sept".
	return strings.Replace(s, "Sept ", "Sep ", 1)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
