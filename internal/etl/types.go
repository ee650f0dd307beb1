package etl

import "time"

// RawRecord is one table row exactly as it appears in the source markup.
type RawRecord struct {
	Date        string
	Program     string
	Invitations string
	LowestCRS   string
}

// Record is one normalized round of invitations.
type Record struct {
	Date        string `json:"date" dynamodbav:"date"`
	Program     string `json:"program" dynamodbav:"program"`
	Invitations int    `json:"invitations" dynamodbav:"invitations"`
	LowestCRS   int    `json:"lowest_crs" dynamodbav:"lowest_crs"`
}

// Key returns the (program, date) pair that identifies a round in table sinks.
func (r Record) Key() string {
	return r.Program + "|" + r.Date
}

// Dataset is the ordered set of records produced by one run, in source row order.
type Dataset []Record

// Page is the result of a fetch.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Text returns the page body as a string.
func (p Page) Text() string {
	return string(p.Body)
}

// Summary describes a completed run.
type Summary struct {
	RunID      string    `json:"run_id"`
	URL        string    `json:"url"`
	PageDigest string    `json:"page_digest,omitempty"`
	Extracted  int       `json:"extracted"`
	Loaded     int       `json:"loaded"`
	Sink       string    `json:"sink"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Response is what the entry point reports back to its trigger.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Phase names a pipeline step.
type Phase string

// Pipeline phases, in execution order.
const (
	PhaseExtract   Phase = "extract"
	PhaseTransform Phase = "transform"
	PhaseLoad      Phase = "load"
)
