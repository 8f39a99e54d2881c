package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/karthikraju391/campus-chat/chat"
)

// File is an attachment chosen by a participant.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

// Uploader turns local files into attachment URLs for chat.Draft.
type Uploader struct {
	store    Store
	maxBytes int64
	now      func() time.Time
}

func NewUploader(store Store, maxBytes int64) *Uploader {
	return &Uploader{store: store, maxBytes: maxBytes, now: time.Now}
}

// ObjectName is "<uploader>-<unix millis>-<base name>".
func ObjectName(userID string, at time.Time, fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "attachment"
	}
	return fmt.Sprintf("%s-%d-%s", userID, at.UnixMilli(), base)
}

// Upload stores f for userID and returns its public URL. Oversized or empty
// files are rejected before the store is contacted.
func (u *Uploader) Upload(ctx context.Context, userID string, f File) (string, error) {
	if userID == "" {
		return "", chat.ErrNotAuthenticated
	}
	if f.Size <= 0 {
		return "", fmt.Errorf("attachment %q is empty: %w", f.Name, chat.ErrValidation)
	}
	if u.maxBytes > 0 && f.Size > u.maxBytes {
		return "", fmt.Errorf("attachment %q is %d bytes, limit is %d: %w", f.Name, f.Size, u.maxBytes, chat.ErrValidation)
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(f.Name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	name := ObjectName(userID, u.now(), f.Name)
	body := f.Body
	var limited *limitReader
	if u.maxBytes > 0 {
		// The declared size may understate the body.
		limited = &limitReader{r: body, remaining: u.maxBytes}
		body = limited
	}
	if err := u.store.Upload(ctx, name, body, contentType); err != nil {
		if limited != nil && limited.exceeded {
			return "", fmt.Errorf("attachment %q exceeds the %d byte limit: %w", f.Name, u.maxBytes, chat.ErrValidation)
		}
		return "", chat.GatewayFailure("upload attachment", err)
	}

	log.WithFields(log.Fields{"user": userID, "object": name, "bytes": f.Size}).Debug("uploaded attachment")
	return u.store.PublicURL(name), nil
}

var errTooLarge = errors.New("attachment body exceeds limit")

// limitReader passes through at most remaining bytes and fails once the body
// goes past them, so an oversized body aborts the upload instead of being cut.
type limitReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, errTooLarge
	}
	// Ask for one byte past the limit to tell a full body from an oversized one.
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	if int64(n) > l.remaining {
		l.exceeded = true
		return int(l.remaining), errTooLarge
	}
	l.remaining -= int64(n)
	return n, err
}
