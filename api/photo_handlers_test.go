package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"photo-map/model"
	"photo-map/pipeline"
)

// mockIngester answers uploads from a table keyed by file name.
type mockIngester struct {
	mu       sync.Mutex
	received []pipeline.Upload
	bodies   []string
	failFor  map[string]bool
}

func (m *mockIngester) Ingest(_ context.Context, upload pipeline.Upload) (model.PhotoData, error) {
	body, _ := io.ReadAll(upload.Body)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, upload)
	m.bodies = append(m.bodies, string(body))

	if m.failFor[upload.Filename] {
		return model.PhotoData{}, &pipeline.StageError{Stage: pipeline.StageNormalize, Err: errors.New("transcode failed")}
	}
	lat, lon := 48.8566, 2.3522
	return model.PhotoData{
		Lat: &lat, Lon: &lon, HasGPS: true,
		Timestamp:    time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		LocationName: "Paris, France",
		URL:          "http://localhost:3000/uploads/1-" + upload.Filename,
	}, nil
}

func (m *mockIngester) IngestBatch(ctx context.Context, uploads []pipeline.Upload) []pipeline.Result {
	results := make([]pipeline.Result, len(uploads))
	for i, u := range uploads {
		photo, err := m.Ingest(ctx, u)
		results[i] = pipeline.Result{Name: u.Filename, Photo: photo, Err: err}
	}
	return results
}

type testFile struct {
	name        string
	contentType string
	body        string
}

func multipartBody(t *testing.T, field string, files ...testFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{`form-data; name="` + field + `"; filename="` + f.name + `"`}
		h["Content-Type"] = []string{f.contentType}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newTestServer(t *testing.T, h *PhotoHandlers) *httptest.Server {
	t.Helper()
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	srv := httptest.NewServer(NewHandler(h))
	t.Cleanup(srv.Close)
	return srv
}

func TestUpload_Success(t *testing.T) {
	ingester := &mockIngester{}
	srv := newTestServer(t, &PhotoHandlers{Pipeline: ingester, MaxUploadBytes: 1 << 20})

	body, ct := multipartBody(t, PhotoFormField, testFile{"IMG_1.HEIC", "image/heic", "heic bytes"})
	resp, err := http.Post(srv.URL+"/upload", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, 48.8566, raw["lat"])
	assert.Equal(t, 2.3522, raw["lon"])
	assert.Equal(t, true, raw["hasGps"])
	assert.Equal(t, "Paris, France", raw["locationName"])
	assert.Equal(t, "http://localhost:3000/uploads/1-IMG_1.HEIC", raw["url"])
	assert.Equal(t, "2024-06-01T09:00:00Z", raw["timestamp"])

	require.Len(t, ingester.received, 1)
	assert.Equal(t, "image/heic", ingester.received[0].ContentType)
	assert.Equal(t, "heic bytes", ingester.bodies[0])
}

func TestUpload_NoFile(t *testing.T) {
	srv := newTestServer(t, &PhotoHandlers{Pipeline: &mockIngester{}})

	body, ct := multipartBody(t, "other", testFile{"a.jpg", "image/jpeg", "x"})
	resp, err := http.Post(srv.URL+"/upload", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(srv.URL+"/upload", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestUpload_TooLarge(t *testing.T) {
	srv := newTestServer(t, &PhotoHandlers{Pipeline: &mockIngester{}, MaxUploadBytes: 64})

	body, ct := multipartBody(t, PhotoFormField, testFile{"a.jpg", "image/jpeg", strings.Repeat("x", 1024)})
	resp, err := http.Post(srv.URL+"/upload", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestUpload_PipelineFailure(t *testing.T) {
	srv := newTestServer(t, &PhotoHandlers{Pipeline: &mockIngester{failFor: map[string]bool{"bad.heic": true}}})

	body, ct := multipartBody(t, PhotoFormField, testFile{"bad.heic", "image/heic", "x"})
	resp, err := http.Post(srv.URL+"/upload", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var e errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.NotEmpty(t, e.Error)
}

func TestUploadBatch_PerFileResults(t *testing.T) {
	srv := newTestServer(t, &PhotoHandlers{Pipeline: &mockIngester{failFor: map[string]bool{"b.heic": true}}})

	body, ct := multipartBody(t, PhotoFormField,
		testFile{"a.jpg", "image/jpeg", "a"},
		testFile{"b.heic", "image/heic", "b"},
		testFile{"c.jpg", "image/jpeg", "c"},
	)
	resp, err := http.Post(srv.URL+"/upload/batch", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []BatchItem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 3)
	assert.NotNil(t, items[0].Photo)
	assert.Nil(t, items[1].Photo)
	assert.NotEmpty(t, items[1].Error)
	assert.Equal(t, "b.heic", items[1].Name)
	assert.NotNil(t, items[2].Photo)
}

func TestServesUploads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1-a.jpg"), []byte("jpeg bytes"), 0o644))
	srv := newTestServer(t, &PhotoHandlers{Pipeline: &mockIngester{}, UploadsDir: dir})

	resp, err := http.Get(srv.URL + "/uploads/1-a.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))
}

func TestSearchNear_WithoutCatalog(t *testing.T) {
	srv := newTestServer(t, &PhotoHandlers{Pipeline: &mockIngester{}})

	resp, err := http.Get(srv.URL + "/photos/near?lat=1&lon=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// mockCatalog implements storage.PhotoDB for handler tests.
type mockCatalog struct {
	lon, lat float64
	dist     int
	photos   []model.PhotoDB
}

func (c *mockCatalog) Close(context.Context) error { return nil }

func (c *mockCatalog) SavePhoto(context.Context, model.PhotoDB) error { return nil }

func (c *mockCatalog) GetPhoto(context.Context, string) (*model.PhotoDB, error) {
	return nil, errors.New("not found")
}

func (c *mockCatalog) SearchPhotosByLocation(_ context.Context, lon, lat float64, dist int) ([]model.PhotoDB, error) {
	c.lon, c.lat, c.dist = lon, lat, dist
	return c.photos, nil
}

func TestSearchNear(t *testing.T) {
	catalog := &mockCatalog{photos: []model.PhotoDB{{FileName: "1-a.jpg", LonLat: model.NewGeoPoint(48.85, 2.35)}}}
	srv := newTestServer(t, &PhotoHandlers{Pipeline: &mockIngester{}, Catalog: catalog})

	resp, err := http.Get(srv.URL + "/photos/near?lat=48.85&lon=2.35&dist=500")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 48.85, catalog.lat)
	assert.Equal(t, 2.35, catalog.lon)
	assert.Equal(t, 500, catalog.dist)

	bad, err := http.Get(srv.URL + "/photos/near?lat=200&lon=2")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	missing, err := http.Get(srv.URL + "/photos/abc")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &PhotoHandlers{Pipeline: &mockIngester{}})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/upload", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zap.NewNop(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
