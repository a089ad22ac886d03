package types

import "strings"

// Address is a Korean administrative address. Sido is the province label as
// stored on equipment rows, Gugun the district.
type Address struct {
	Sido   string  `json:"sido"`
	Gugun  string  `json:"gugun"`
	Detail string  `json:"detail,omitempty"`
	Lat    float64 `json:"lat,omitempty"`
	Lng    float64 `json:"lng,omitempty"`
}

// NewAddress creates an address without coordinates.
func NewAddress(sido, gugun, detail string) Address {
	return Address{
		Sido:   strings.TrimSpace(sido),
		Gugun:  strings.TrimSpace(gugun),
		Detail: strings.TrimSpace(detail),
	}
}

// WithCoordinates adds geographic coordinates to the address
func (a Address) WithCoordinates(lat, lng float64) Address {
	a.Lat = lat
	a.Lng = lng
	return a
}

// HasCoordinates reports whether both coordinates are set.
func (a Address) HasCoordinates() bool {
	return a.Lat != 0 && a.Lng != 0
}

// String joins the non-empty parts with single spaces.
func (a Address) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.Sido, a.Gugun, a.Detail} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
