package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aouyang1/framectl/api/client"
	"github.com/aouyang1/framectl/api/models"
	"github.com/aouyang1/framectl/controller"
	"github.com/aouyang1/framectl/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeFrame is an in-memory frame api.
type fakeFrame struct {
	mu    sync.Mutex
	state models.State

	removed    []string
	reorders   [][]string
	inserts    []string
	transforms []models.Image
	uploads    []string
	advances   int
	fetches    int
}

func newFakeFrame() *fakeFrame {
	img := func(id string) models.Image {
		return models.Image{ID: id, Filename: id + ".jpg", ImageURL: "/api/images/" + id, UploadedAt: time.Now()}
	}
	cur := img("cur")
	return &fakeFrame{state: models.State{
		Current:  &cur,
		Queue:    []models.Image{img("q1"), img("q2"), img("q3")},
		History:  []models.Image{img("h1")},
		Settings: models.DefaultSettings(),
	}}
}

func notFound(path string) error {
	return &client.StatusError{Method: http.MethodGet, Path: path, StatusCode: http.StatusNotFound}
}

func (f *fakeFrame) GetState(context.Context) (*models.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state
	s.Queue = slices.Clone(f.state.Queue)
	s.History = slices.Clone(f.state.History)
	if f.state.Current != nil {
		cur := *f.state.Current
		s.Current = &cur
	}
	return &s, nil
}

func (f *fakeFrame) Upload(_ context.Context, files []client.UploadFile) (*models.UploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &models.UploadResponse{}
	for _, file := range files {
		f.uploads = append(f.uploads, file.Name)
		resp.Added = append(resp.Added, models.UploadedImage{ID: "new-" + file.Name, Filename: file.Name})
	}
	return resp, nil
}

func (f *fakeFrame) RemoveFromQueue(_ context.Context, imageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := slices.IndexFunc(f.state.Queue, func(img models.Image) bool { return img.ID == imageID })
	if idx < 0 {
		return notFound("/api/queue/" + imageID)
	}
	f.removed = append(f.removed, imageID)
	f.state.Queue = slices.Delete(f.state.Queue, idx, idx+1)
	return nil
}

func (f *fakeFrame) ReorderQueue(_ context.Context, imageIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reorders = append(f.reorders, imageIDs)
	return nil
}

func (f *fakeFrame) InsertIntoQueue(_ context.Context, imageID string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, "queue:"+imageID)
	return nil
}

func (f *fakeFrame) InsertIntoHistory(_ context.Context, imageID string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, "history:"+imageID)
	return nil
}

func (f *fakeFrame) UpdateTransform(_ context.Context, imageID string, offsetX, offsetY float64) (*models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img := models.Image{ID: imageID, OffsetX: offsetX, OffsetY: offsetY}
	f.transforms = append(f.transforms, img)
	return &img, nil
}

func (f *fakeFrame) UpdateSettings(_ context.Context, settings models.Settings) (*models.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Settings = settings
	return &settings, nil
}

func (f *fakeFrame) AdvanceFrame(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advances++
	return nil
}

func (f *fakeFrame) FetchImage(_ context.Context, imageID string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if imageID == "missing" {
		return nil, "", notFound("/api/images/missing")
	}
	return []byte("img-" + imageID), "image/jpeg", nil
}

type testServer struct {
	ws    *WebServer
	frame *fakeFrame
	ctrl  *controller.Controller
	db    *store.Database
}

func newTestServer(t *testing.T, opts ServerOptions) *testServer {
	t.Helper()
	frame := newFakeFrame()
	ctrl := controller.New(context.Background(), frame, controller.Options{
		TransformDebounce: time.Hour,
		TransformRetry:    time.Hour,
		SettingsDebounce:  time.Hour,
	})
	t.Cleanup(ctrl.Close)
	require.NoError(t, ctrl.Refresh(context.Background()))

	db := newImportDB(t)
	ws, err := NewWebServer(ctrl, frame, db, opts)
	require.NoError(t, err)
	return &testServer{ws: ws, frame: frame, ctrl: ctrl, db: db}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.ws.Handler().ServeHTTP(w, req)
	return w
}

var payload = []string{controller.DragPayloadType}

func queueCards() []controller.CardBounds {
	return []controller.CardBounds{
		{ID: "q1", Top: 0, Height: 40},
		{ID: "q2", Top: 40, Height: 40},
		{ID: "q3", Top: 80, Height: 40},
	}
}

func TestIndexAndFragments(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), `id="fragment-queue"`)
	assert.Contains(t, w.Body.String(), "cur.jpg")

	w = ts.do(t, http.MethodGet, "/ui/fragments/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "3 images queued")
	assert.NotContains(t, w.Body.String(), "<html")

	w = ts.do(t, http.MethodGet, "/ui/fragments/bogus", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStaticAssets(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	w := ts.do(t, http.MethodGet, "/static/js/framectl.js", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/ui/events/drag/drop")
}

func TestState(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(t, http.MethodGet, "/ui/state", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.UIState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Loaded)
	assert.Equal(t, "idle", resp.Phase)
	assert.Equal(t, ts.ctrl.Cache.Version(), resp.Version)
	require.NotNil(t, resp.State.Current)
	assert.Equal(t, "cur", resp.State.Current.ID)
	assert.Len(t, resp.State.Queue, 3)
}

func TestImageProxyCaches(t *testing.T) {
	ts := newTestServer(t, ServerOptions{ImageCacheTTL: time.Minute})

	w := ts.do(t, http.MethodGet, "/ui/images/cur", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "img-cur", w.Body.String())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "private, max-age=60", w.Header().Get("Cache-Control"))

	w = ts.do(t, http.MethodGet, "/ui/images/cur", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, 1, ts.frame.fetches)

	w = ts.do(t, http.MethodGet, "/ui/images/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImageProxyWithoutCache(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.do(t, http.MethodGet, "/ui/images/cur", nil)
	ts.do(t, http.MethodGet, "/ui/images/cur", nil)
	assert.Equal(t, 2, ts.frame.fetches)
}

func TestPointerEvents(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(t, http.MethodPost, "/ui/events/pointer/down", controller.PointerDown{PointerID: 1, X: 100, Y: 50, Width: 200, Height: 100})
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.PointerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "dragging", resp.Phase)

	// another pointer is ignored
	w = ts.do(t, http.MethodPost, "/ui/events/pointer/move", models.PointerEvent{PointerID: 2, X: 150, Y: 50})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodPost, "/ui/events/pointer/move", models.PointerEvent{PointerID: 1, X: 150, Y: 50})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0.5, resp.OffsetX)
	assert.Equal(t, 0.0, resp.OffsetY)

	w = ts.do(t, http.MethodPost, "/ui/events/pointer/up", models.PointerEvent{PointerID: 1, X: 150, Y: 50})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ts.frame.transforms, 1)
	assert.Equal(t, models.Image{ID: "cur", OffsetX: 0.5}, ts.frame.transforms[0])
}

func TestPointerDownWithoutCurrent(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.frame.state.Current = nil
	require.NoError(t, ts.ctrl.Refresh(context.Background()))

	w := ts.do(t, http.MethodPost, "/ui/events/pointer/down", controller.PointerDown{PointerID: 1, Width: 200, Height: 100})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDragReorderQueue(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(t, http.MethodPost, "/ui/events/drag/start", models.DragStartRequest{List: "queue", ID: "q3", PayloadTypes: payload})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepted": true}`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/ui/events/drag/over", map[string]any{
		"list": "queue", "pointer_y": 10, "cards": queueCards(), "payload_types": payload,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var over models.DragOverResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &over))
	assert.True(t, over.Accepted)
	assert.Equal(t, 0, over.Index)
	assert.Equal(t, []string{"q3", "q1", "q2"}, over.Order)

	w = ts.do(t, http.MethodPost, "/ui/events/drag/drop", controller.DropEvent{
		List: controller.ListQueue, IncomingID: "q3", PointerY: 10, Cards: queueCards(), PayloadTypes: payload,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [][]string{{"q3", "q1", "q2"}}, ts.frame.reorders)
}

func TestDragIntoHistory(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	ts.do(t, http.MethodPost, "/ui/events/drag/start", models.DragStartRequest{List: "queue", ID: "q1", PayloadTypes: payload})
	w := ts.do(t, http.MethodPost, "/ui/events/drag/drop", controller.DropEvent{
		List: controller.ListHistory, IncomingID: "q1", PointerY: 0,
		Cards: []controller.CardBounds{{ID: "h1", Top: 0, Height: 40}}, PayloadTypes: payload,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"history:q1"}, ts.frame.inserts)
}

func TestDragEventsRejectBadInput(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(t, http.MethodPost, "/ui/events/drag/start", models.DragStartRequest{List: "queue", ID: "q1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepted": false}`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/ui/events/drag/start", models.DragStartRequest{List: "sideways", ID: "q1", PayloadTypes: payload})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/ui/events/drag/drop", controller.DropEvent{List: controller.ListQueue, PayloadTypes: payload})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/ui/events/drag/drop", controller.DropEvent{List: "sideways", IncomingID: "q1", PayloadTypes: payload})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/ui/events/drag/end", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, ts.frame.reorders)
}

func TestSettingsInput(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(t, http.MethodPost, "/ui/events/settings/input", models.SettingsInputRequest{Field: controller.FieldLEDBrightness, Value: "35"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"brightness": "35%", "saturation": "0.50"}`, w.Body.String())

	// the draft shows in the settings fragment before it is saved
	w = ts.do(t, http.MethodGet, "/ui/fragments/settings", nil)
	assert.Contains(t, w.Body.String(), `<output data-readout="brightness">35%</output>`)

	w = ts.do(t, http.MethodPost, "/ui/events/settings/input", models.SettingsInputRequest{Field: controller.FieldSaturation, Value: "1.5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"readouts"`)
}

func TestSettingsInputForm(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	req := httptest.NewRequest(http.MethodPost, "/ui/events/settings/input", strings.NewReader("field=saturation&value=0.25"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	ts.ws.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"brightness": "50%", "saturation": "0.25"}`, w.Body.String())
}

func TestRemoveFromQueue(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(t, http.MethodPost, "/ui/events/queue/q2/remove", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"q2"}, ts.frame.removed)
	assert.Equal(t, []string{"q1", "q3"}, ts.ctrl.Cache.QueueIDs())

	w = ts.do(t, http.MethodPost, "/ui/events/queue/nope/remove", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	send := func(names ...string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		for _, name := range names {
			part, err := mw.CreateFormFile("files", name)
			require.NoError(t, err)
			_, err = part.Write([]byte("data"))
			require.NoError(t, err)
		}
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/ui/events/upload", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		ts.ws.Handler().ServeHTTP(w, req)
		return w
	}

	w := send("a.jpg", "b.png")
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Added, 2)
	assert.Equal(t, []string{"a.jpg", "b.png"}, ts.frame.uploads)

	w = send("notes.txt")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send()
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, ts.frame.uploads, 2)
}

func TestAdvance(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(t, http.MethodPost, "/ui/events/advance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.frame.advances)
}

func TestSchedule(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(t, http.MethodGet, "/ui/schedule", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var s store.Schedule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, store.DefaultSchedule, s)

	w = ts.do(t, http.MethodPut, "/ui/schedule", store.Schedule{Enabled: true, Start: "7:00", End: "22:00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPut, "/ui/schedule", store.Schedule{Enabled: true, Start: "07:00", End: "22:00"})
	require.Equal(t, http.StatusOK, w.Code)

	got, err := ts.db.GetSchedule()
	require.NoError(t, err)
	assert.Equal(t, store.Schedule{Enabled: true, Start: "07:00", End: "22:00"}, *got)
}

func TestEventsRateLimited(t *testing.T) {
	ts := newTestServer(t, ServerOptions{RateLimit: rate.Every(time.Hour), RateBurst: 1})

	w := ts.do(t, http.MethodPost, "/ui/events/pointer/move", models.PointerEvent{PointerID: 9})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodPost, "/ui/events/pointer/move", models.PointerEvent{PointerID: 9})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// reads are not limited
	w = ts.do(t, http.MethodGet, "/ui/state", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPointerUpEndsDragAfterMovesAreLimited(t *testing.T) {
	ts := newTestServer(t, ServerOptions{RateLimit: rate.Every(time.Hour), RateBurst: 2})

	w := ts.do(t, http.MethodPost, "/ui/events/pointer/down", controller.PointerDown{PointerID: 1, X: 100, Y: 50, Width: 200, Height: 100})
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPost, "/ui/events/pointer/move", models.PointerEvent{PointerID: 1, X: 150, Y: 50})
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPost, "/ui/events/pointer/move", models.PointerEvent{PointerID: 1, X: 160, Y: 50})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	w = ts.do(t, http.MethodPost, "/ui/events/pointer/up", models.PointerEvent{PointerID: 1, X: 160, Y: 50})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, controller.PhaseDragging, ts.ctrl.Editor.Phase())
	require.Len(t, ts.frame.transforms, 1)
	assert.Equal(t, 0.5, ts.frame.transforms[0].OffsetX)
}

func TestDragEndIsNotLimited(t *testing.T) {
	ts := newTestServer(t, ServerOptions{RateLimit: rate.Every(time.Hour), RateBurst: 1})

	w := ts.do(t, http.MethodPost, "/ui/events/drag/start", models.DragStartRequest{List: "queue", ID: "q3", PayloadTypes: payload})
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPost, "/ui/events/drag/over", map[string]any{
		"list": "queue", "pointer_y": 10, "cards": queueCards(), "payload_types": payload,
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	for range 3 {
		w = ts.do(t, http.MethodPost, "/ui/events/drag/end", nil)
		assert.NotEqual(t, http.StatusTooManyRequests, w.Code)
	}
	_, _, dragging := ts.ctrl.Lists.Dragging()
	assert.False(t, dragging)
}

func TestPointerMoveReportsReleasedDrag(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(t, http.MethodPost, "/ui/events/pointer/down", controller.PointerDown{PointerID: 1, X: 100, Y: 50, Width: 200, Height: 100})
	require.Equal(t, http.StatusOK, w.Code)

	ts.frame.mu.Lock()
	next := ts.frame.state.Queue[0]
	ts.frame.state.Current = &next
	ts.frame.mu.Unlock()
	require.NoError(t, ts.ctrl.Refresh(context.Background()))

	w = ts.do(t, http.MethodPost, "/ui/events/pointer/move", models.PointerEvent{PointerID: 1, X: 150, Y: 50})
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.PointerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Released)
	assert.Equal(t, "idle", resp.Phase)

	w = ts.do(t, http.MethodPost, "/ui/events/pointer/move", models.PointerEvent{PointerID: 1, X: 160, Y: 50})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestStateIncludesSavedOffset(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	w := ts.do(t, http.MethodGet, "/ui/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "saved_offset")

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ts.db.SaveOffset("cur", 0.25, -0.5, at))

	w = ts.do(t, http.MethodGet, "/ui/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.UIState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.SavedOffset)
	assert.Equal(t, "cur", resp.SavedOffset.ImageID)
	assert.Equal(t, 0.25, resp.SavedOffset.OffsetX)
	assert.Equal(t, -0.5, resp.SavedOffset.OffsetY)
	assert.True(t, at.Equal(resp.SavedOffset.SavedAt))
}
