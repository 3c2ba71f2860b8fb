package domain

import "context"

// Result statuses for one event within a batch.
const (
	ResultProcessed = "processed"
	ResultDuplicate = "duplicate"
	ResultContended = "contended"
	ResultFailed    = "failed"
)

type Result struct {
	EventID string `json:"event_id"`
	LeadID  string `json:"lead_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Receipt summarizes one inbound delivery, which may carry a batch.
type Receipt struct {
	Received   int      `json:"received"`
	Processed  int      `json:"processed"`
	Duplicates int      `json:"duplicates"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// Service runs the ingestion pipeline for inbound deliveries.
type Service interface {
	// HandleWebhook verifies the signature, decodes the body and processes
	// every event in it. Verification and decoding errors fail the whole
	// delivery; per-event outcomes are reported in the receipt.
	HandleWebhook(ctx context.Context, body []byte, signatureHeader string) (*Receipt, error)
	// EnrichLead fetches the lead from the CRM and pushes it through the
	// same pipeline as a synthetic event, for operator-triggered reruns.
	EnrichLead(ctx context.Context, leadID string) (*Result, error)
}
