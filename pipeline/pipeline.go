// Package pipeline turns one uploaded file into a finalized photo record:
// transient copy, metadata extraction, reverse geocoding, format
// normalization and durable storage.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"photo-map/convert"
	"photo-map/geocode"
	"photo-map/metrics"
	"photo-map/model"
	"photo-map/storage"
)

// Upload is one file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// MetadataExtractor reads capture metadata from a file on disk.
type MetadataExtractor interface {
	Extract(path string) model.Metadata
}

// Normalizer converts upload bytes into a displayable format.
type Normalizer interface {
	Normalize(data []byte, mimeType, filename string) (convert.Output, error)
}

// Catalog indexes stored photos. Catalog errors never fail an upload.
type Catalog interface {
	SavePhoto(ctx context.Context, photo model.PhotoDB) error
}

// StageError names the pipeline stage that failed fatally.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

const (
	StageReceive   = "receive"
	StageExtract   = "extract"
	StageResolve   = "resolve"
	StageNormalize = "normalize"
	StageStore     = "store"
)

// Pipeline ingests uploads. It holds no per-upload state and is safe for
// concurrent use.
type Pipeline struct {
	TempDir    string
	Extractor  MetadataExtractor
	Resolver   geocode.Resolver
	Normalizer Normalizer
	Storage    storage.PhotoStorage
	Catalog    Catalog
	Workers    int
	Log        *zap.Logger
}

// job carries the state of one upload through the stages.
type job struct {
	upload   Upload
	tempPath string
	meta     model.Metadata
	place    string
	output   convert.Output
	stored   string
	log      *zap.Logger
}

type stage struct {
	name string
	run  func(ctx context.Context, j *job) error
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{StageReceive, p.receive},
		{StageExtract, p.extract},
		{StageResolve, p.resolve},
		{StageNormalize, p.normalize},
		{StageStore, p.store},
	}
}

// Ingest runs every stage for upload. The transient copy of the upload is
// removed on every exit path.
func (p *Pipeline) Ingest(ctx context.Context, upload Upload) (model.PhotoData, error) {
	start := time.Now()
	j := &job{
		upload: upload,
		place:  model.LocationNotFound,
		log:    p.logger().With(zap.String("filename", upload.Filename)),
	}
	defer p.cleanup(j)

	for _, s := range p.stages() {
		if err := s.run(ctx, j); err != nil {
			metrics.UploadsTotal.WithLabelValues("failure").Inc()
			metrics.UploadStageFailures.WithLabelValues(s.name).Inc()
			j.log.Error("upload failed", zap.String("stage", s.name), zap.Error(err))
			return model.PhotoData{}, &StageError{Stage: s.name, Err: err}
		}
	}

	photo := j.photo(p.Storage.URL(j.stored))
	p.index(ctx, j, photo)

	metrics.UploadsTotal.WithLabelValues("success").Inc()
	metrics.UploadDuration.Observe(time.Since(start).Seconds())
	j.log.Info("upload processed",
		zap.String("stored_as", j.stored),
		zap.Bool("has_gps", photo.HasGPS),
		zap.String("location", photo.LocationName),
	)
	return photo, nil
}

func (p *Pipeline) receive(_ context.Context, j *job) error {
	if j.upload.Body == nil {
		return fmt.Errorf("upload has no body")
	}
	file, err := os.CreateTemp(p.TempDir, "photo-upload-*")
	if err != nil {
		return fmt.Errorf("create transient file: %w", err)
	}
	j.tempPath = file.Name()

	if _, err := io.Copy(file, j.upload.Body); err != nil {
		file.Close()
		return fmt.Errorf("write transient file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close transient file: %w", err)
	}
	return nil
}

func (p *Pipeline) extract(_ context.Context, j *job) error {
	j.meta = p.Extractor.Extract(j.tempPath)
	if j.meta.Lat == nil || j.meta.Lon == nil {
		j.meta.HasGPS, j.meta.Lat, j.meta.Lon = false, nil, nil
	}
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, j *job) error {
	if !j.meta.HasGPS || p.Resolver == nil {
		return nil
	}
	j.place = p.Resolver.Resolve(ctx, *j.meta.Lat, *j.meta.Lon)
	if j.place == "" {
		j.place = model.LocationNotFound
	}
	return nil
}

func (p *Pipeline) normalize(_ context.Context, j *job) error {
	data, err := os.ReadFile(j.tempPath)
	if err != nil {
		return fmt.Errorf("read transient file: %w", err)
	}
	out, err := p.Normalizer.Normalize(data, j.upload.ContentType, j.upload.Filename)
	if err != nil {
		return err
	}
	j.output = out
	return nil
}

func (p *Pipeline) store(_ context.Context, j *job) error {
	name, err := p.Storage.SavePhoto(j.output.Filename, j.output.Data)
	if err != nil {
		return err
	}
	j.stored = name
	return nil
}

func (p *Pipeline) index(ctx context.Context, j *job, photo model.PhotoData) {
	if p.Catalog == nil {
		return
	}
	doc := storage.CatalogDocument(photo, j.stored, j.output.ContentType, int64(len(j.output.Data)))
	if err := p.Catalog.SavePhoto(ctx, doc); err != nil {
		j.log.Warn("indexing photo in catalog failed", zap.Error(err))
	}
}

func (p *Pipeline) cleanup(j *job) {
	if j.tempPath == "" {
		return
	}
	if err := os.Remove(j.tempPath); err != nil && !os.IsNotExist(err) {
		j.log.Error("failed to delete transient file", zap.String("path", j.tempPath), zap.Error(err))
	}
}

func (j *job) photo(url string) model.PhotoData {
	photo := model.PhotoData{
		Timestamp:    j.meta.Timestamp,
		HasGPS:       j.meta.HasGPS,
		LocationName: model.LocationNotFound,
		URL:          url,
	}
	if j.meta.HasGPS {
		photo.Lat = j.meta.Lat
		photo.Lon = j.meta.Lon
		photo.LocationName = j.place
	}
	return photo
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Log != nil {
		return p.Log
	}
	return zap.NewNop()
}
