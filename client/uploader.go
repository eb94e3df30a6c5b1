package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"photo-map/model"
)

// UploadField is the multipart field the server reads the photo from.
const UploadField = "photo"

const defaultUploadWorkers = 4

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
}

// UploadResult is the outcome for one file of a batch.
type UploadResult struct {
	Name  string
	Photo model.PhotoData
	Err   error
}

// Uploader sends local files to the ingestion server.
type Uploader struct {
	BaseURL string
	HTTP    *http.Client
	Workers int
	Log     *zap.Logger
}

// NewUploader returns an Uploader for the server at baseURL.
func NewUploader(baseURL string, workers int, logger *zap.Logger) *Uploader {
	return &Uploader{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
		Workers: workers,
		Log:     logger.Named("uploader"),
	}
}

// UploadAll uploads every path concurrently. Results are in input order;
// one failed file never affects the others.
func (u *Uploader) UploadAll(ctx context.Context, paths []string) []UploadResult {
	results := make([]UploadResult, len(paths))

	workers := u.Workers
	if workers <= 0 {
		workers = defaultUploadWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			photo, err := u.Upload(gctx, path)
			results[i] = UploadResult{Name: filepath.Base(path), Photo: photo, Err: err}
			if err != nil {
				u.Log.Warn("upload failed", zap.String("file", path), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Upload posts a single file and decodes the finalized record.
func (u *Uploader) Upload(ctx context.Context, path string) (model.PhotoData, error) {
	body, contentType, err := multipartFile(path)
	if err != nil {
		return model.PhotoData{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(u.BaseURL, "/")+"/upload", body)
	if err != nil {
		return model.PhotoData{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	client := u.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return model.PhotoData{}, fmt.Errorf("post %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.PhotoData{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return model.PhotoData{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return model.PhotoData{}, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var photo model.PhotoData
	if err := json.Unmarshal(data, &photo); err != nil {
		return model.PhotoData{}, fmt.Errorf("decode response: %w", err)
	}
	if photo.URL == "" {
		return model.PhotoData{}, errors.New("response has no url")
	}
	return photo, nil
}

func multipartFile(path string) (*bytes.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := filepath.Base(path)
	ct, err := DetectContentType(f, name)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, UploadField, name))
	h.Set("Content-Type", ct)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("finish form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// DetectContentType sniffs the image type from the content of r and
// rewinds it. Content that is not recognized as an image falls back to
// ContentTypeFor.
func DetectContentType(r io.ReadSeeker, name string) (string, error) {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	if ct := mt.String(); strings.HasPrefix(ct, "image/") {
		return ct, nil
	}
	return ContentTypeFor(name), nil
}

// ContentTypeFor guesses the MIME type from the file extension. Unknown
// extensions are sent as octet-stream and sniffed by the server.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}
