package chat

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/karthikraju391/campus-chat/models"
)

// Tracker advances read receipts for the messages a viewer has on screen.
type Tracker struct {
	gw Gateway
}

func NewTracker(gw Gateway) *Tracker {
	return &Tracker{gw: gw}
}

// Unread returns the incoming messages viewerID has not seen.
func Unread(viewerID string, messages []models.Message) []models.Message {
	var unread []models.Message
	for i := range messages {
		if messages[i].UnreadFor(viewerID) {
			unread = append(unread, messages[i])
		}
	}
	return unread
}

// MarkRead adds viewerID to the read-by set of every unread incoming message and
// returns how many were advanced. Failures are logged, not returned: a missed
// receipt is not worth interrupting the session for.
func (t *Tracker) MarkRead(ctx context.Context, roomID, viewerID string, messages []models.Message) int {
	if viewerID == "" {
		return 0
	}
	unread := Unread(viewerID, messages)
	if len(unread) == 0 {
		return 0
	}

	marked := 0
	for _, msg := range unread {
		if err := t.gw.AddReader(ctx, msg.ID, viewerID); err != nil {
			gatewayFailures.WithLabelValues("add reader").Inc()
			log.WithError(err).WithFields(log.Fields{
				"room":    roomID,
				"message": msg.ID,
				"viewer":  viewerID,
			}).Warn("failed to mark message read")
			continue
		}
		marked++
	}
	readReceipts.Add(float64(marked))
	return marked
}
