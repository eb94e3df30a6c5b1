package render

import (
	"strings"

	"photo-map/client"
	"photo-map/model"
)

// TitleState says whether a trip title may still be derived.
type TitleState int

const (
	// TitleUnset means no title row exists yet.
	TitleUnset TitleState = iota
	// TitleDefault means the title still equals client.DefaultTitle.
	TitleDefault
	// TitleUserSet means the title was changed by the user or by a prior
	// derivation.
	TitleUserSet
)

func (s TitleState) String() string {
	switch s {
	case TitleUnset:
		return "unset"
	case TitleDefault:
		return "default"
	default:
		return "user-set"
	}
}

// StateOf classifies a stored title. found reports whether a row exists.
// A title renamed back to the default counts as default again.
func StateOf(title string, found bool) TitleState {
	switch {
	case !found:
		return TitleUnset
	case title == client.DefaultTitle:
		return TitleDefault
	default:
		return TitleUserSet
	}
}

// Locality returns the most specific part of a resolved place name, or ""
// for the sentinel.
func Locality(place string) string {
	if place == "" || place == model.LocationNotFound {
		return ""
	}
	locality, _, _ := strings.Cut(place, ", ")
	return strings.TrimSpace(locality)
}

// DeriveTitle builds a trip title from the localities of the GPS-bearing
// records, unique in first-seen order. It returns "" when no locality is
// known.
func DeriveTitle(records []model.PhotoRecord) string {
	seen := make(map[string]bool)
	var places []string
	for _, r := range records {
		if !r.HasGPS {
			continue
		}
		l := Locality(r.LocationName)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		places = append(places, l)
	}

	switch len(places) {
	case 0:
		return ""
	case 1:
		return places[0] + " Trip"
	case 2:
		return places[0] + " & " + places[1] + " Trip"
	default:
		return strings.Join(places, ", ")
	}
}
