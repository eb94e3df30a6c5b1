// Package render rebuilds the trip view from the local record store: title,
// date range, day sections, map markers and the marker association used for
// map interaction.
package render

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"photo-map/client"
	"photo-map/model"
)

const (
	// FitPadding is the padding in pixels kept around fitted markers.
	FitPadding = 50
	// SelectZoom is the zoom level used when flying to a selected photo.
	SelectZoom = 15
	// InitialZoom is the zoom of the view before any photo is shown.
	InitialZoom = 4
)

// InitialCenter is the center of the view before any photo is shown.
var InitialCenter = LatLng{Lat: 39.82, Lon: -98.57}

// DeletePrompt is the confirmation asked before a photo is deleted.
const DeletePrompt = "Are you sure you want to delete this photo? This cannot be undone."

var (
	ErrNoLocation    = errors.New("photo has no location")
	ErrNothingToShow = errors.New("no photos with locations")
	ErrUnknownPhoto  = errors.New("unknown photo")
)

// Notice returns the message shown to the user for an interaction error.
func Notice(err error) string {
	switch {
	case errors.Is(err, ErrNoLocation):
		return "This photo has no location data to show on the map."
	case errors.Is(err, ErrNothingToShow):
		return "No photos with locations to show!"
	case err != nil:
		return err.Error()
	}
	return ""
}

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// View is the result of one rebuild.
type View struct {
	Title      string
	TitleState TitleState
	// DateRange is empty when there are no records.
	DateRange string
	Sections  []Section
	Markers   []*Marker
}

// BatchReport summarizes a finished upload batch.
type BatchReport struct {
	Added  int
	Failed []string
}

// Notice is the message shown for failed files, or "" if none failed.
func (r BatchReport) Notice() string {
	if len(r.Failed) == 0 {
		return ""
	}
	return fmt.Sprintf("Failed to process %d photo(s): %s", len(r.Failed), strings.Join(r.Failed, ", "))
}

// Engine owns the map and the marker association. Every trigger ends in a
// full rebuild from the store.
type Engine struct {
	mu      sync.Mutex
	store   client.RecordStore
	mapView Map
	loc     *time.Location
	log     *zap.Logger

	markers map[int64]*Marker
	view    View
}

// NewEngine returns an engine drawing records from store into m. Days are
// grouped in loc, time.Local when nil.
func NewEngine(store client.RecordStore, m Map, loc *time.Location, logger *zap.Logger) *Engine {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:   store,
		mapView: m,
		loc:     loc,
		log:     logger.Named("render"),
		markers: make(map[int64]*Marker),
	}
}

// OnStart sets the initial view and renders the stored records.
func (e *Engine) OnStart(ctx context.Context) error {
	e.mapView.SetView(InitialCenter, InitialZoom)
	return e.Rebuild(ctx)
}

// OnUploadComplete adds every successful upload to the store and rebuilds.
func (e *Engine) OnUploadComplete(ctx context.Context, results []client.UploadResult) (BatchReport, error) {
	var report BatchReport
	for _, r := range results {
		if r.Err != nil {
			report.Failed = append(report.Failed, r.Name)
			continue
		}
		if _, err := e.store.Add(ctx, r.Photo); err != nil {
			e.log.Error("saving uploaded photo failed", zap.String("name", r.Name), zap.Error(err))
			report.Failed = append(report.Failed, r.Name)
			continue
		}
		report.Added++
	}

	if len(report.Failed) > 0 {
		e.log.Warn("batch finished with failures", zap.Strings("failed", report.Failed))
	}
	return report, e.Rebuild(ctx)
}

// Delete removes a record after the user confirms. It reports whether the
// record was deleted; a declined confirmation changes nothing.
func (e *Engine) Delete(ctx context.Context, id int64, c Confirmer) (bool, error) {
	if !c.Confirm(DeletePrompt) {
		return false, nil
	}
	if err := e.OnDeleteConfirmed(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// OnDeleteConfirmed removes the record and rebuilds.
func (e *Engine) OnDeleteConfirmed(ctx context.Context, id int64) error {
	if err := e.store.Delete(ctx, id); err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("photo %d: %w", id, ErrUnknownPhoto)
		}
		return err
	}
	return e.Rebuild(ctx)
}

// SetTitle saves a user title. A blank title is kept as set by the user:
// it displays as the default but is never replaced by a derived one.
func (e *Engine) SetTitle(ctx context.Context, title string) error {
	title = strings.TrimSpace(title)
	if err := e.store.PutSetting(ctx, client.TitleKey, title); err != nil {
		return err
	}
	return e.Rebuild(ctx)
}

// Select flies to the marker of a record and opens its popup once there.
func (e *Engine) Select(id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.markers[id]; ok {
		e.mapView.FlyTo(m.Position, SelectZoom, func() {
			e.mapView.OpenPopup(id)
		})
		return nil
	}
	for _, s := range e.view.Sections {
		for _, entry := range s.Entries {
			if entry.ID == id {
				return ErrNoLocation
			}
		}
	}
	return fmt.Errorf("photo %d: %w", id, ErrUnknownPhoto)
}

// ShowAll fits the view to every marker.
func (e *Engine) ShowAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := BoundsOf(positions(e.view.Markers))
	if !ok {
		return ErrNothingToShow
	}
	e.mapView.FitBounds(b, FitPadding)
	return nil
}

// Marker returns the marker of a record.
func (e *Engine) Marker(id int64) (*Marker, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markers[id]
	return m, ok
}

// View returns the result of the last rebuild.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Rebuild re-reads the store and redraws everything.
func (e *Engine) Rebuild(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load photos: %w", err)
	}
	title, found, err := e.loadTitle(ctx)
	if err != nil {
		return err
	}

	slices.SortStableFunc(records, func(a, b model.PhotoRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	state := StateOf(title, found)
	if state == TitleDefault {
		if derived := DeriveTitle(records); derived != "" {
			if err := e.store.PutSetting(ctx, client.TitleKey, derived); err != nil {
				return fmt.Errorf("save derived title: %w", err)
			}
			e.log.Info("derived trip title", zap.String("title", derived))
			title, state = derived, TitleUserSet
		}
	}
	if !found || title == "" {
		title = client.DefaultTitle
	}

	view := View{Title: title, TitleState: state}
	if len(records) > 0 {
		first := records[0].Timestamp.In(e.loc)
		last := records[len(records)-1].Timestamp.In(e.loc)
		view.DateRange = FormatDateRange(first, last)
	}
	view.Sections = GroupByDay(records, e.loc)

	e.mapView.Clear()
	markers := make(map[int64]*Marker)
	for _, s := range view.Sections {
		for _, entry := range s.Entries {
			if entry.MapInert {
				continue
			}
			m := &Marker{
				ID:       entry.ID,
				Position: *entry.Position,
				Popup: Popup{
					ImageURL: entry.ImageURL,
					Date:     entry.Timestamp.Format(longDate),
					Location: entry.LocationName,
				},
			}
			markers[m.ID] = m
			view.Markers = append(view.Markers, m)
			e.mapView.AddMarker(m)
		}
	}

	if b, ok := BoundsOf(positions(view.Markers)); ok {
		e.mapView.FitBounds(b, FitPadding)
	}

	e.markers = markers
	e.view = view
	e.log.Debug("view rebuilt",
		zap.Int("photos", len(records)),
		zap.Int("markers", len(markers)),
		zap.String("title", title),
	)
	return nil
}

func (e *Engine) loadTitle(ctx context.Context) (string, bool, error) {
	title, err := e.store.Setting(ctx, client.TitleKey)
	if errors.Is(err, client.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load title: %w", err)
	}
	return title, true, nil
}

func positions(markers []*Marker) []LatLng {
	points := make([]LatLng, len(markers))
	for i, m := range markers {
		points[i] = m.Position
	}
	return points
}
