package models

import (
	"path"
	"strings"
	"time"
)

// DeliveryStatus is derived from the read-by set of a message the viewer sent.
type DeliveryStatus string

const (
	StatusNone      DeliveryStatus = ""
	StatusSending   DeliveryStatus = "Sending..."
	StatusDelivered DeliveryStatus = "Delivered"
	StatusRead      DeliveryStatus = "Read"
)

// DeliveryStatusOf returns the status shown under a message for viewerID. Only
// valid for two-party rooms: the sender plus one more reader means read.
func DeliveryStatusOf(m *Message, viewerID string) DeliveryStatus {
	if viewerID == "" || !m.SentBy(viewerID) {
		return StatusNone
	}
	switch len(m.ReadBy) {
	case 0:
		return StatusSending
	case 1:
		return StatusDelivered
	default:
		return StatusRead
	}
}

// DayLabel groups messages by calendar day relative to now, in now's location.
func DayLabel(ts, now time.Time) string {
	ts = ts.In(now.Location())
	if sameDay(ts, now) {
		return "Today"
	}
	if sameDay(ts, now.AddDate(0, 0, -1)) {
		return "Yesterday"
	}
	return ts.Format("Mon, 2 Jan")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// MediaKind classifies an attachment URL by extension.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaFile  MediaKind = "file"
)

func MediaKindOf(url string) MediaKind {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	switch strings.ToLower(path.Ext(url)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return MediaImage
	case ".mp4", ".mov", ".webm":
		return MediaVideo
	}
	return MediaFile
}
