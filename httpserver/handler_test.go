package httpserver

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/attachment-store/attachment"
	"github.com/ruteri/attachment-store/metadata"
	"github.com/ruteri/attachment-store/registry"
	"github.com/ruteri/attachment-store/representation"
	"github.com/ruteri/attachment-store/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router      http.Handler
	srv         *Server
	localRoot   string
	archiveRoot string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	localRoot := t.TempDir()
	archiveRoot := t.TempDir()
	local, err := storage.NewFileBackend(localRoot, "/files", logger)
	require.NoError(t, err)
	archive, err := storage.NewFileBackend(archiveRoot, "https://archive.example.com", logger)
	require.NoError(t, err)

	reg := registry.New()
	reg.RegisterStorageBackend("local", local)
	reg.RegisterStorageBackend("archive", archive)
	reg.RegisterRepresentationHandler("image", representation.NewImagingHandler(logger))

	svc := attachment.NewService(reg, metadata.NewMemoryStore(), logger, nil)
	srv, err := New(&HTTPServerConfig{Log: logger}, NewHandler(svc, logger), nil)
	require.NoError(t, err)

	return &testServer{router: srv.Handler(), srv: srv, localRoot: localRoot, archiveRoot: archiveRoot}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, target string, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

var ownerFields = map[string]string{
	"owner_kind":   "user",
	"owner_id":     "42",
	"relationship": "photos",
}

func (ts *testServer) upload(t *testing.T, filename string, content []byte) AttachmentResponse {
	t.Helper()
	rr := ts.do(t, uploadRequest(t, "/api/attachments", ownerFields, filename, content))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp AttachmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestHandleUpload_Success(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.upload(t, "My Photo!!.PNG", pngBytes(t, 16, 8))

	assert.Equal(t, int64(1), resp.ID)
	assert.Equal(t, "my_photo__.png", resp.Filename)
	assert.Equal(t, "image/png", resp.ContentType)
	assert.Equal(t, "local", resp.StorageSystemName)
	assert.Equal(t, "/files/0/1/my_photo__.png", resp.URL)
	require.NotNil(t, resp.Position)
	assert.Equal(t, 0, *resp.Position)
	assert.Empty(t, resp.Representations)
	assert.FileExists(t, filepath.Join(ts.localRoot, "0", "1", "my_photo__.png"))

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attachments/1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var fetched AttachmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, resp.URL, fetched.URL)
	assert.Equal(t, resp.Filesize, fetched.Filesize)
}

func TestHandleUpload_Rejections(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		content  []byte
	}{
		{
			name:     "missing owner",
			fields:   map[string]string{"relationship": "photos"},
			filename: "a.png",
			content:  []byte("x"),
		},
		{
			name:   "missing file",
			fields: ownerFields,
		},
		{
			name:     "empty file",
			fields:   ownerFields,
			filename: "a.png",
			content:  []byte{},
		},
		{
			name: "unknown storage",
			fields: map[string]string{
				"owner_kind":   "user",
				"owner_id":     "42",
				"relationship": "photos",
				"storage":      "nowhere",
			},
			filename: "a.png",
			content:  []byte("x"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, uploadRequest(t, "/api/attachments", tt.fields, tt.filename, tt.content))
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestHandleUpload_TooLarge(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.handler.WithMaxUploadSize(512)

	rr := ts.do(t, uploadRequest(t, "/api/attachments", ownerFields, "big.bin", bytes.Repeat([]byte("a"), 4096)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestHandleGet_Errors(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attachments/99", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attachments/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleReplaceData(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, "old.png", pngBytes(t, 4, 4))

	rr := ts.do(t, uploadRequest(t, "/api/attachments/1/data", ownerFields, "new.png", pngBytes(t, 8, 8)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp AttachmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "new.png", resp.Filename)
	assert.FileExists(t, filepath.Join(ts.localRoot, "0", "1", "new.png"))
	assert.NoFileExists(t, filepath.Join(ts.localRoot, "0", "1", "old.png"))

	other := map[string]string{"owner_kind": "user", "owner_id": "7", "relationship": "photos"}
	rr = ts.do(t, uploadRequest(t, "/api/attachments/1/data", other, "x.png", pngBytes(t, 2, 2)))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleRepresentation(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, "My Photo!!.PNG", pngBytes(t, 16, 8))

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attachments/1/representations/image?width=8&extension=jpg", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp RepresentationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "/files/0/1/my_photo___image_8.jpg", resp.URL)
	assert.FileExists(t, filepath.Join(ts.localRoot, "0", "1", "my_photo___image_8.jpg"))

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attachments/1/representations/image?extension=jpg&width=8&redirect=true", nil))
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/files/0/1/my_photo___image_8.jpg", rr.Header().Get("Location"))

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attachments/1", nil))
	var fetched AttachmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, map[string]string{"0/1/my_photo___image_8.jpg": "/files/0/1/my_photo___image_8.jpg"}, fetched.Representations)
}

func TestHandleRepresentation_NotAvailable(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, "notes.txt", []byte("plain text, not an image"))

	for _, target := range []string{
		"/api/attachments/1/representations/image?width=8",
		"/api/attachments/1/representations/video",
		"/api/attachments/2/representations/image?width=8",
	} {
		rr := ts.do(t, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, target)
	}
}

func TestHandleRepresentation_UnsafeOptions(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, "photo.png", pngBytes(t, 16, 8))

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attachments/1/representations/image?width=..%2F8", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	entries, err := os.ReadDir(filepath.Join(ts.localRoot, "0", "1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHandleMigrate(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, "photo.png", pngBytes(t, 4, 4))

	rr := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/attachments/1/migrate", strings.NewReader(`{"storage":"archive"}`)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp AttachmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "archive", resp.StorageSystemName)
	assert.Equal(t, "https://archive.example.com/0/1/photo.png", resp.URL)
	assert.FileExists(t, filepath.Join(ts.archiveRoot, "0", "1", "photo.png"))

	rr = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/attachments/1/migrate", strings.NewReader(`{"storage":"nowhere"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/attachments/1/migrate", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/attachments/1/migrate", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleClearRepresentations(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, "photo.png", pngBytes(t, 16, 16))

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attachments/1/representations/image?width=4&extension=png", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	repPath := filepath.Join(ts.localRoot, "0", "1", "photo_image_4.png")
	require.FileExists(t, repPath)

	rr = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/attachments/1/representations", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.NoFileExists(t, repPath)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attachments/1", nil))
	var fetched AttachmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Empty(t, fetched.Representations)
}

func TestHandleDelete(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, "photo.png", pngBytes(t, 4, 4))

	rr := ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/attachments/1", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.NoFileExists(t, filepath.Join(ts.localRoot, "0", "1", "photo.png"))

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/attachments/1", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/attachments/1", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleListByOwner(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, "first.png", pngBytes(t, 2, 2))
	ts.upload(t, "second.png", pngBytes(t, 2, 2))

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/owners/user/42/photos?active=true", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var list []AttachmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "first.png", list[0].Filename)
	assert.Equal(t, "second.png", list[1].Filename)
	assert.Equal(t, 1, *list[1].Position)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/owners/user/7/photos", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func healthStatus(t *testing.T, rr *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alive", healthStatus(t, rr).Status)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", healthStatus(t, rr).Status)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/drain", nil))
	assert.Equal(t, "draining", healthStatus(t, rr).Status)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "draining", healthStatus(t, rr).Status)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/drain", nil))
	assert.Equal(t, "already draining", healthStatus(t, rr).Status)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/undrain", nil))
	assert.Equal(t, "ready", healthStatus(t, rr).Status)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/undrain", nil))
	assert.Equal(t, "already ready", healthStatus(t, rr).Status)

	rr = ts.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReadinessReportsUnavailableStorage(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, os.RemoveAll(ts.archiveRoot))

	rr := ts.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	resp := healthStatus(t, rr)
	assert.Equal(t, "not ready", resp.Status)
	assert.Equal(t, []string{"archive"}, resp.Unavailable)
}
