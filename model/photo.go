package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LocationNotFound is the place name used when a photo has no GPS data or
// reverse geocoding produced nothing.
const LocationNotFound = "Location not found"

// Metadata is what could be read from a file's embedded tags.
type Metadata struct {
	Lat       *float64
	Lon       *float64
	Timestamp time.Time
	HasGPS    bool
}

// PhotoData is the finalized result of ingesting one upload.
type PhotoData struct {
	Lat          *float64  `json:"lat"`
	Lon          *float64  `json:"lon"`
	Timestamp    time.Time `json:"timestamp"`
	HasGPS       bool      `json:"hasGps"`
	LocationName string    `json:"locationName"`
	URL          string    `json:"url"`
}

// PhotoRecord is a PhotoData persisted in the local record store.
type PhotoRecord struct {
	ID int64 `json:"id"`
	PhotoData
}

// PhotoDB is the catalog document kept for every stored photo.
type PhotoDB struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	LonLat       *GeoPoint          `bson:"lonlat,omitempty"`
	TakenAt      time.Time          `bson:"taken_at,omitempty"`
	FileName     string             `bson:"file_name"`
	URL          string             `bson:"url"`
	LocationName string             `bson:"location_name,omitempty"`
	Size         int64              `bson:"size"`
	ContentType  string             `bson:"content_type"`
}

type GeoPoint struct {
	Type        string    `bson:"type,omitempty"`
	Coordinates []float64 `bson:"coordinates,omitempty"` // [longitude, latitude]
}

// NewGeoPoint returns a GeoJSON point for the given coordinates.
func NewGeoPoint(lat, lon float64) *GeoPoint {
	return &GeoPoint{
		Type:        "Point",
		Coordinates: []float64{lon, lat},
	}
}
