package models

// ReportType tells which kind of record a linked report reference points at.
type ReportType string

const (
	ReportTypeIssue     ReportType = "report"
	ReportTypeLostFound ReportType = "lostfound"
)

// LostFoundCategory is the category shown for lost-and-found items.
const LostFoundCategory = "Lost & Found"

// ReportSnapshot is the part of a linked report copied into a context card.
type ReportSnapshot struct {
	ID          string     `json:"id"`
	Type        ReportType `json:"type"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Image       *string    `json:"image"`
}
