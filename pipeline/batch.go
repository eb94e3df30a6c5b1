package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"photo-map/model"
)

const defaultWorkers = 4

// Result is the outcome of one upload in a batch.
type Result struct {
	Name  string
	Photo model.PhotoData
	Err   error
}

// IngestBatch ingests every upload on a bounded worker pool. Each upload
// succeeds or fails on its own; results keep the order of uploads.
func (p *Pipeline) IngestBatch(ctx context.Context, uploads []Upload) []Result {
	results := make([]Result, len(uploads))

	workers := p.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, upload := range uploads {
		g.Go(func() error {
			photo, err := p.Ingest(ctx, upload)
			results[i] = Result{Name: upload.Filename, Photo: photo, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
