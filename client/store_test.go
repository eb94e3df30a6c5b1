package client

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photo-map/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "photos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func gpsPhoto(lat, lon float64, place string, ts time.Time) model.PhotoData {
	return model.PhotoData{
		Lat: &lat, Lon: &lon, HasGPS: true,
		Timestamp:    ts,
		LocationName: place,
		URL:          "http://localhost:3000/uploads/" + place,
	}
}

func TestOpenSQLite_FreshStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)

	title, err := s.Setting(ctx, TitleKey)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, title)

	photos, err := s.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, photos)
}

func TestOpenSQLite_ReopenKeepsTitle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photos.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.PutSetting(ctx, TitleKey, "Honeymoon"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	title, err := s.Setting(ctx, TitleKey)
	require.NoError(t, err)
	assert.Equal(t, "Honeymoon", title)
}

func TestOpenSQLite_UpgradeKeepsPhotos(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photos.db")
	ctx := context.Background()

	// a store written before settings existed
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = db.Exec(migrations[0])
	require.NoError(t, err)
	_, err = db.Exec(`PRAGMA user_version = 1;`)
	require.NoError(t, err)
	_, err = db.Exec(
		`INSERT INTO photos (url, has_gps, lat, lon, location_name, taken_at) VALUES (?, 1, 45.5, -73.5, ?, ?);`,
		"http://localhost:3000/uploads/1-a.jpg", "Montreal, Quebec, Canada", "2024-06-01T09:00:00Z",
	)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	photos, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "Montreal, Quebec, Canada", photos[0].LocationName)
	require.NotNil(t, photos[0].Lat)
	assert.Equal(t, 45.5, *photos[0].Lat)
	assert.Equal(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), photos[0].Timestamp)

	title, err := s.Setting(ctx, TitleKey)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, title)
}

func TestSQLiteStore_AddAllDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	id1, err := s.Add(ctx, gpsPhoto(48.8566, 2.3522, "Paris, France", ts))
	require.NoError(t, err)
	id2, err := s.Add(ctx, model.PhotoData{
		Timestamp:    ts.Add(time.Hour),
		LocationName: model.LocationNotFound,
		URL:          "http://localhost:3000/uploads/2-scan.jpg",
	})
	require.NoError(t, err)
	id3, err := s.Add(ctx, gpsPhoto(51.5, -0.12, "London, England, United Kingdom", ts.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.Less(t, id1, id2)
	assert.Less(t, id2, id3)

	photos, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, photos, 3)
	assert.Equal(t, id1, photos[0].ID)
	assert.True(t, photos[0].HasGPS)
	assert.Equal(t, 48.8566, *photos[0].Lat)
	assert.False(t, photos[1].HasGPS)
	assert.Nil(t, photos[1].Lat)
	assert.Nil(t, photos[1].Lon)

	require.NoError(t, s.Delete(ctx, id2))
	assert.ErrorIs(t, s.Delete(ctx, id2), ErrNotFound)

	photos, err = s.All(ctx)
	require.NoError(t, err)
	require.Len(t, photos, 2)
	assert.Equal(t, id1, photos[0].ID)
	assert.Equal(t, id3, photos[1].ID)

	// ids are never reused
	id4, err := s.Add(ctx, gpsPhoto(1, 2, "X", ts))
	require.NoError(t, err)
	assert.Greater(t, id4, id3)
}

func TestSQLiteStore_Settings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Setting(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutSetting(ctx, TitleKey, "Paris Trip"))
	require.NoError(t, s.PutSetting(ctx, TitleKey, "Road Trip"))

	title, err := s.Setting(ctx, TitleKey)
	require.NoError(t, err)
	assert.Equal(t, "Road Trip", title)
}
