package render

import (
	"slices"
	"strings"
	"time"

	"photo-map/model"
)

// Entry is one list item. Entries without GPS are map inert.
type Entry struct {
	ID           int64
	ImageURL     string
	Timestamp    time.Time
	LocationName string
	Position     *LatLng
	MapInert     bool
}

// Section groups the entries of one local calendar day.
type Section struct {
	Day     string
	Header  string
	Entries []Entry
}

// GroupByDay groups records, already sorted ascending by timestamp, by
// calendar day in loc. Sections run newest day first; entries inside a day
// keep their order.
func GroupByDay(records []model.PhotoRecord, loc *time.Location) []Section {
	index := make(map[string]int)
	var days []Section
	for _, r := range records {
		local := r.Timestamp.In(loc)
		day := local.Format(time.DateOnly)

		i, ok := index[day]
		if !ok {
			i = len(days)
			index[day] = i
			days = append(days, Section{Day: day, Header: local.Format(sectionHeader)})
		}
		days[i].Entries = append(days[i].Entries, entryFor(r, loc))
	}

	slices.SortStableFunc(days, func(a, b Section) int {
		return strings.Compare(b.Day, a.Day)
	})
	return days
}

func entryFor(r model.PhotoRecord, loc *time.Location) Entry {
	e := Entry{
		ID:           r.ID,
		ImageURL:     r.URL,
		Timestamp:    r.Timestamp.In(loc),
		LocationName: r.LocationName,
		MapInert:     true,
	}
	if r.HasGPS && r.Lat != nil && r.Lon != nil {
		e.Position = &LatLng{Lat: *r.Lat, Lon: *r.Lon}
		e.MapInert = false
	}
	return e
}
