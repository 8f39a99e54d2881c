package handlers

import (
	"time"

	"github.com/karthikraju391/campus-chat/models"
)

// messageView is a message as rendered for one viewer.
type messageView struct {
	models.Message
	Kind      string                 `json:"kind"`
	Text      string                 `json:"text,omitempty"`
	Media     string                 `json:"media,omitempty"`
	MediaKind models.MediaKind       `json:"media_kind,omitempty"`
	Report    *models.ReportSnapshot `json:"report,omitempty"`
	Status    models.DeliveryStatus  `json:"status,omitempty"`
	Day       string                 `json:"day"`
}

func newMessageView(m models.Message, viewerID string, now time.Time) messageView {
	v := messageView{
		Message: m,
		Status:  models.DeliveryStatusOf(&m, viewerID),
		Day:     models.DayLabel(m.CreatedAt, now),
	}
	switch c := models.ParseContent(m.Content).(type) {
	case models.SystemCard:
		report := c.Report
		v.Kind = "system"
		v.Report = &report
	case models.Attachment:
		v.Kind = "attachment"
		v.Text = c.Text
		v.Media = c.URL
		v.MediaKind = models.MediaKindOf(c.URL)
	case models.PlainText:
		v.Kind = "text"
		v.Text = c.Text
	}
	return v
}

func messageViews(msgs []models.Message, viewerID string) []messageView {
	now := time.Now()
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageView(m, viewerID, now))
	}
	return out
}
