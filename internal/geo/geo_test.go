package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	seoulCityHall = Point{Lat: 37.5663, Lng: 126.9779}
	busanStation  = Point{Lat: 35.1151, Lng: 129.0422}
)

func TestHaversine(t *testing.T) {
	assert.InDelta(t, 0, Haversine(seoulCityHall, seoulCityHall), 1e-9)
	// Seoul to Busan is roughly 330 km as the crow flies.
	assert.InDelta(t, 330, Haversine(seoulCityHall, busanStation), 10)
	assert.InDelta(t, Haversine(seoulCityHall, busanStation), Haversine(busanStation, seoulCityHall), 1e-9)
}

func TestBoxAround(t *testing.T) {
	box := BoxAround(seoulCityHall, 2)
	assert.True(t, box.Contains(seoulCityHall))
	assert.False(t, box.Contains(busanStation))

	// a point 1.5 km north must be inside
	north := Point{Lat: seoulCityHall.Lat + 0.0135, Lng: seoulCityHall.Lng}
	assert.True(t, box.Contains(north))
	assert.Less(t, Haversine(seoulCityHall, north), 2.0)
}

func TestBoxAround_Pole(t *testing.T) {
	box := BoxAround(Point{Lat: 90, Lng: 0}, 10)
	assert.Equal(t, -180.0, box.MinLng)
	assert.Equal(t, 180.0, box.MaxLng)
	assert.Equal(t, 90.0, box.MaxLat)
}

func TestPointValidate(t *testing.T) {
	assert.NoError(t, seoulCityHall.Validate())
	assert.Error(t, Point{Lat: 91}.Validate())
	assert.Error(t, Point{Lng: -181}.Validate())
}
