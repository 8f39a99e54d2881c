package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikraju391/campus-chat/blob"
	"github.com/karthikraju391/campus-chat/chat"
	"github.com/karthikraju391/campus-chat/models"
	"github.com/karthikraju391/campus-chat/store"
)

type testServer struct {
	app   *fiber.App
	mem   *store.Memory
	blobs *blob.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	blobs := blob.NewMemory("https://cdn.test")
	srv := &Server{
		Gateway:    mem,
		Feed:       mem,
		Resolver:   chat.NewResolver(mem),
		Sender:     chat.NewSender(mem, mem),
		Sync:       chat.NewSynchronizer(mem, mem, mem, 0),
		Aggregator: chat.NewAggregator(mem, mem),
		Uploader:   blob.NewUploader(blobs, 16),
	}
	app := fiber.New()
	srv.Register(app)
	return &testServer{app: app, mem: mem, blobs: blobs}
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	return ts.send(t, req)
}

func (ts *testServer) send(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) openRoom(t *testing.T, self, partner string) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/rooms", self, openRoomRequest{PartnerID: partner})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out struct {
		RoomID string `json:"room_id"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.RoomID)
	return out.RoomID
}

func TestRequiresUser(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/api/conversations", "/api/rooms/r1/messages"} {
		resp, _ := ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestOpenRoomBothWays(t *testing.T) {
	ts := newTestServer(t)
	first := ts.openRoom(t, "u1", "u2")
	second := ts.openRoom(t, "u2", "u1")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, ts.mem.RoomCount())
}

func TestStoredRoomSurvivesLaterRequests(t *testing.T) {
	ts := newTestServer(t)
	roomID := ts.openRoom(t, "u1", "u2")

	// Requests by other users reuse fiber's buffers.
	resp, _ := ts.do(t, http.MethodGet, "/api/conversations", "zz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/api/rooms/other/messages", "yy", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	room, err := ts.mem.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, []string{room.User1, room.User2})
	assert.Equal(t, roomID, room.ID)

	resp, body := ts.do(t, http.MethodPost, "/api/rooms/"+roomID+"/messages", "u2", map[string]string{"text": "still here"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	_, _ = ts.do(t, http.MethodGet, "/api/conversations", "qq", nil)

	msgs, err := ts.mem.ListMessages(context.Background(), roomID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, roomID, msgs[0].RoomID)
	require.NotNil(t, msgs[0].SenderID)
	assert.Equal(t, "u2", *msgs[0].SenderID)
	assert.Equal(t, []string{"u2"}, msgs[0].ReadBy)
}

func TestOpenRoomFromForm(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader("partner_id=u2"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	req.Header.Set(UserHeader, "u1")
	resp, body := ts.send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	_, _ = ts.do(t, http.MethodPost, "/api/rooms", "ab", openRoomRequest{PartnerID: "cd"})

	room, err := ts.mem.FindRoom(context.Background(), "u1", "u2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, []string{room.User1, room.User2})
}

func TestOpenRoomWithSelf(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/api/rooms", "u1", openRoomRequest{PartnerID: "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "yourself")
}

func TestOpenRoomGatewayFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.mem.Fail("FindRoom", errors.New("db down"))
	resp, body := ts.do(t, http.MethodPost, "/api/rooms", "u1", openRoomRequest{PartnerID: "u2"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "could not open conversation")
	assert.NotContains(t, string(body), "db down")
}

func TestSendAndListMessages(t *testing.T) {
	ts := newTestServer(t)
	roomID := ts.openRoom(t, "u1", "u2")

	resp, body := ts.do(t, http.MethodPost, "/api/rooms/"+roomID+"/messages", "u1", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var sent messageView
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, "text", sent.Kind)
	assert.Equal(t, "hello", sent.Text)
	assert.Equal(t, models.StatusDelivered, sent.Status)
	assert.Equal(t, "Today", sent.Day)

	resp, body = ts.do(t, http.MethodGet, "/api/rooms/"+roomID+"/messages", "u2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var listed []messageView
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, sent.ID, listed[0].ID)
	assert.Equal(t, models.StatusNone, listed[0].Status)
}

func TestSendEmptyMessage(t *testing.T) {
	ts := newTestServer(t)
	roomID := ts.openRoom(t, "u1", "u2")

	resp, _ := ts.do(t, http.MethodPost, "/api/rooms/"+roomID+"/messages", "u1", map[string]string{"text": " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, ts.mem.Calls("InsertMessage"))
}

func TestMessagesOfForeignRoom(t *testing.T) {
	ts := newTestServer(t)
	roomID := ts.openRoom(t, "u1", "u2")

	resp, _ := ts.do(t, http.MethodGet, "/api/rooms/"+roomID+"/messages", "u3", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/rooms/nope/messages", "u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendWithContextCard(t *testing.T) {
	ts := newTestServer(t)
	ts.mem.PutReport(models.ReportSnapshot{ID: "rep-1", Type: models.ReportTypeIssue, Category: "IT", Description: "Projector"})
	resp, body := ts.do(t, http.MethodPost, "/api/rooms", "staff", openRoomRequest{PartnerID: "stu", ReportID: "rep-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var opened struct {
		RoomID string `json:"room_id"`
	}
	require.NoError(t, json.Unmarshal(body, &opened))

	resp, body = ts.do(t, http.MethodPost, "/api/rooms/"+opened.RoomID+"/messages", "staff",
		map[string]interface{}{"text": "Looking into it", "attach_context": true})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodGet, "/api/rooms/"+opened.RoomID+"/messages", "stu", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []messageView
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, "system", listed[0].Kind)
	require.NotNil(t, listed[0].Report)
	assert.Equal(t, "Projector", listed[0].Report.Description)
	assert.Equal(t, "text", listed[1].Kind)
}

func TestListConversations(t *testing.T) {
	ts := newTestServer(t)
	ts.mem.PutProfile(models.Profile{ID: "staff", FullName: "Sam", Role: models.RoleStaff}, "")
	ts.mem.PutProfile(models.Profile{ID: "stu", FullName: "Stu", Role: models.RoleUser}, "stu@campus.edu")
	roomID := ts.openRoom(t, "stu", "staff")

	resp, body := ts.do(t, http.MethodPost, "/api/rooms/"+roomID+"/messages", "stu", map[string]string{"media": "https://cdn.test/a.png"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodGet, "/api/conversations", "staff", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rows []chat.ConversationSummary
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "stu", rows[0].Partner.ID)
	require.NotNil(t, rows[0].Partner.Email)
	assert.Equal(t, "stu@campus.edu", *rows[0].Partner.Email)
	assert.Equal(t, models.AttachmentPreview, rows[0].LastMessagePreview)
	assert.True(t, rows[0].HasUnread)
}

func uploadRequest(t *testing.T, path, userID, fileName string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	req.Header.Set(UserHeader, userID)
	return req
}

func TestUploadAttachment(t *testing.T) {
	ts := newTestServer(t)
	roomID := ts.openRoom(t, "u1", "u2")

	resp, body := ts.send(t, uploadRequest(t, "/api/rooms/"+roomID+"/attachments", "u1", "cat.png", []byte("png-bytes")))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var out struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, strings.HasPrefix(out.URL, "https://cdn.test/u1-"), out.URL)
	assert.True(t, strings.HasSuffix(out.URL, "-cat.png"), out.URL)

	// Too large for the configured limit.
	resp, _ = ts.send(t, uploadRequest(t, "/api/rooms/"+roomID+"/attachments", "u1", "big.bin", bytes.Repeat([]byte("x"), 32)))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Not a participant.
	resp, _ = ts.send(t, uploadRequest(t, "/api/rooms/"+roomID+"/attachments", "u3", "cat.png", []byte("png")))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ts.blobs.Fail(errors.New("bucket gone"))
	resp, _ = ts.send(t, uploadRequest(t, "/api/rooms/"+roomID+"/attachments", "u1", "cat.png", []byte("png")))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/chat", "/chat/r1"} {
		resp, _ := ts.do(t, http.MethodGet, path, "u1", nil)
		assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode, path)
	}

	resp, _ := ts.do(t, http.MethodGet, "/chat/r1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMessageViewKinds(t *testing.T) {
	u1 := "u1"
	card, err := models.SystemCard{Report: models.ReportSnapshot{ID: "rep"}}.Encode()
	require.NoError(t, err)

	tests := []struct {
		name      string
		content   string
		wantKind  string
		wantText  string
		wantMedia models.MediaKind
	}{
		{name: "text", content: `{"text":"hi"}`, wantKind: "text", wantText: "hi"},
		{name: "video", content: `{"media":"https://cdn/clip.mp4","text":"look"}`, wantKind: "attachment", wantText: "look", wantMedia: models.MediaVideo},
		{name: "card", content: card, wantKind: "system"},
		{name: "malformed", content: `{"text":`, wantKind: "text", wantText: `{"text":`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
			msg := models.Message{ID: "m", SenderID: &u1, Content: tc.content, ReadBy: []string{"u1"}, CreatedAt: now.AddDate(0, 0, -1)}

			v := newMessageView(msg, "u2", now)
			assert.Equal(t, tc.wantKind, v.Kind)
			assert.Equal(t, tc.wantText, v.Text)
			assert.Equal(t, tc.wantMedia, v.MediaKind)
			assert.Equal(t, "Yesterday", v.Day)
			assert.Equal(t, models.StatusNone, v.Status)
			if tc.wantKind == "system" {
				require.NotNil(t, v.Report)
				assert.Equal(t, "rep", v.Report.ID)
			}

			assert.Equal(t, models.StatusDelivered, newMessageView(msg, "u1", now).Status)
		})
	}
}
