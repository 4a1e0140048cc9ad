package position

import (
	"fmt"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/banshee-data/waymark/internal/geo"
)

// ParseSentence turns one NMEA 0183 line into a fix. Only RMC sentences with
// an active ("A") status produce a fix; other sentence types and void fixes
// report ok=false. The receiver's UTC date and time become the capture time;
// fallback is used when the sentence carries none.
func ParseSentence(line string, fallback time.Time) (fix geo.Fix, ok bool, err error) {
	s, err := nmea.Parse(line)
	if err != nil {
		return geo.Fix{}, false, fmt.Errorf("parse nmea: %w", err)
	}
	if s.DataType() != nmea.TypeRMC {
		return geo.Fix{}, false, nil
	}
	rmc, isRMC := s.(nmea.RMC)
	if !isRMC || rmc.Validity != nmea.ValidRMC {
		return geo.Fix{}, false, nil
	}

	fix, err = geo.NewFix(geo.GeoPoint{Latitude: rmc.Latitude, Longitude: rmc.Longitude}, captureTime(rmc, fallback))
	if err != nil {
		return geo.Fix{}, false, err
	}
	return fix, true, nil
}

func captureTime(rmc nmea.RMC, fallback time.Time) time.Time {
	if !rmc.Date.Valid || !rmc.Time.Valid {
		return fallback
	}
	return time.Date(
		2000+rmc.Date.YY, time.Month(rmc.Date.MM), rmc.Date.DD,
		rmc.Time.Hour, rmc.Time.Minute, rmc.Time.Second,
		rmc.Time.Millisecond*int(time.Millisecond), time.UTC,
	)
}
