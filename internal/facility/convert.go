package facility

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/wroge/wgs84"
)

// UTMToLonLat converts UTM easting/northing in the given zone to WGS84
// geographic coordinates. Older registry exports store projected meters
// instead of degrees.
func UTMToLonLat(easting, northing float64, zone int, northern bool) (lon, lat float64, err error) {
	if zone < 1 || zone > 60 {
		return 0, 0, eris.Errorf("facility: invalid UTM zone %d", zone)
	}

	transform := wgs84.UTM(float64(zone), northern).To(wgs84.LonLat())
	lon, lat, _ = transform(easting, northing, 0)

	if math.IsNaN(lon) || math.IsNaN(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, eris.Errorf("facility: UTM conversion produced invalid coordinates (%.1f, %.1f, zone %d)",
			easting, northing, zone)
	}
	return lon, lat, nil
}
