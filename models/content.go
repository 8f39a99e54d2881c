package models

import (
	"encoding/json"
	"strings"
)

// AttachmentPreview is shown in place of text for messages that carry none.
const AttachmentPreview = "[Attachment]"

// Content is the decoded form of a message payload. It is one of PlainText,
// Attachment or SystemCard.
type Content interface {
	// Preview is the one-line text used by conversation lists.
	Preview() string
	// Encode renders the payload stored in Message.Content.
	Encode() (string, error)

	isContent()
}

type PlainText struct {
	Text string
}

type Attachment struct {
	URL  string
	Text string
}

// SystemCard snapshots a linked report at the start of a conversation topic.
type SystemCard struct {
	Report ReportSnapshot
}

// wirePayload is the JSON shape shared by every variant.
type wirePayload struct {
	Text   string          `json:"text,omitempty"`
	Media  string          `json:"media,omitempty"`
	System bool            `json:"system,omitempty"`
	Report *ReportSnapshot `json:"report,omitempty"`
}

func (PlainText) isContent()  {}
func (Attachment) isContent() {}
func (SystemCard) isContent() {}

func (c PlainText) Preview() string {
	if c.Text == "" {
		return AttachmentPreview
	}
	return c.Text
}

func (c Attachment) Preview() string {
	if c.Text == "" {
		return AttachmentPreview
	}
	return c.Text
}

func (c SystemCard) Preview() string {
	return AttachmentPreview
}

func (c PlainText) Encode() (string, error) {
	return encode(wirePayload{Text: c.Text})
}

func (c Attachment) Encode() (string, error) {
	return encode(wirePayload{Text: c.Text, Media: c.URL})
}

func (c SystemCard) Encode() (string, error) {
	report := c.Report
	return encode(wirePayload{System: true, Report: &report})
}

func encode(p wirePayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseContent decodes a stored payload. It never fails: anything that is not a
// JSON object is returned as PlainText holding the raw string.
func ParseContent(raw string) Content {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return PlainText{Text: raw}
	}

	var p wirePayload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return PlainText{Text: raw}
	}

	switch {
	case p.System && p.Report != nil:
		return SystemCard{Report: *p.Report}
	case p.Media != "":
		return Attachment{URL: p.Media, Text: p.Text}
	default:
		return PlainText{Text: p.Text}
	}
}
