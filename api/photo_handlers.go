package api

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"photo-map/model"
	"photo-map/pipeline"
	"photo-map/storage"
)

// PhotoFormField is the multipart field carrying the uploaded file.
const PhotoFormField = "photo"

// multipart parts above this size spill to disk
const multipartMemory = 32 << 20

type Ingester interface {
	Ingest(ctx context.Context, upload pipeline.Upload) (model.PhotoData, error)
	IngestBatch(ctx context.Context, uploads []pipeline.Upload) []pipeline.Result
}

type PhotoHandlers struct {
	Pipeline       Ingester
	Catalog        storage.PhotoDB
	UploadsDir     string
	MaxUploadBytes int64
	Log            *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

// BatchItem is the per-file entry of a batch upload response.
type BatchItem struct {
	Name  string           `json:"name"`
	Photo *model.PhotoData `json:"photo,omitempty"`
	Error string           `json:"error,omitempty"`
}

func (h *PhotoHandlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /upload", h.handleUploadPhoto)
	mux.HandleFunc("POST /upload/batch", h.handleUploadBatch)
	mux.HandleFunc("GET /photos/near", h.handleSearchNear)
	mux.HandleFunc("GET /photos/{id}", h.handleGetPhoto)
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.UploadsDir))))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (h *PhotoHandlers) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(PhotoFormField)
	if err != nil {
		h.Log.Warn("upload without file", zap.Error(err))
		writeError(w, http.StatusBadRequest, "No file uploaded.")
		return
	}
	defer file.Close()

	photo, err := h.Pipeline.Ingest(r.Context(), uploadFrom(header, file))
	if err != nil {
		h.Log.Error("server error during upload", zap.String("filename", header.Filename), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred on the server.")
		return
	}

	writeJSON(w, http.StatusOK, photo)
}

func (h *PhotoHandlers) handleUploadBatch(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	fileHeaders := r.MultipartForm.File[PhotoFormField]
	if len(fileHeaders) == 0 {
		writeError(w, http.StatusBadRequest, "No file uploaded.")
		return
	}

	items := make([]BatchItem, len(fileHeaders))
	uploads := make([]pipeline.Upload, 0, len(fileHeaders))
	index := make([]int, 0, len(fileHeaders))
	for i, fileHeader := range fileHeaders {
		items[i].Name = fileHeader.Filename
		file, err := fileHeader.Open()
		if err != nil {
			h.Log.Error("error opening uploaded file", zap.String("filename", fileHeader.Filename), zap.Error(err))
			items[i].Error = "Error opening file"
			continue
		}
		defer file.Close()
		uploads = append(uploads, uploadFrom(fileHeader, file))
		index = append(index, i)
	}

	for j, result := range h.Pipeline.IngestBatch(r.Context(), uploads) {
		item := &items[index[j]]
		if result.Err != nil {
			item.Error = "An unexpected error occurred on the server."
			continue
		}
		photo := result.Photo
		item.Photo = &photo
	}

	writeJSON(w, http.StatusOK, items)
}

func (h *PhotoHandlers) handleSearchNear(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		writeError(w, http.StatusNotFound, storage.ErrNoCatalog.Error())
		return
	}

	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		writeError(w, http.StatusBadRequest, "lat and lon must be valid coordinates")
		return
	}
	dist := 1000
	if v := q.Get("dist"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "dist must be a positive number of meters")
			return
		}
		dist = d
	}

	photos, err := h.Catalog.SearchPhotosByLocation(r.Context(), lon, lat, dist)
	if err != nil {
		h.Log.Error("catalog search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, photos)
}

func (h *PhotoHandlers) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		writeError(w, http.StatusNotFound, storage.ErrNoCatalog.Error())
		return
	}

	photo, err := h.Catalog.GetPhoto(r.Context(), r.PathValue("id"))
	if err != nil {
		h.Log.Warn("photo lookup failed", zap.String("id", r.PathValue("id")), zap.Error(err))
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}
	writeJSON(w, http.StatusOK, photo)
}

// parseForm enforces the upload size limit and parses the multipart body.
func (h *PhotoHandlers) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if h.MaxUploadBytes > 0 {
		if r.ContentLength > h.MaxUploadBytes {
			h.Log.Warn("file size exceeds limit",
				zap.Int64("content_length", r.ContentLength),
				zap.Int64("limit", h.MaxUploadBytes),
			)
			writeError(w, http.StatusRequestEntityTooLarge, "File size exceeds limit")
			return false
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File size exceeds limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "No file uploaded.")
		return false
	}
	return true
}

func uploadFrom(header *multipart.FileHeader, file multipart.File) pipeline.Upload {
	return pipeline.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
