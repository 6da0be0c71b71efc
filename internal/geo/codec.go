// Package geo parses "lat,lon" strings and renders OpenStreetMap links for them.
package geo

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"sos-relay/internal/models"
)

// ErrInvalidLocation is returned (wrapped) for any location that does not parse into a
// finite, in-range coordinate pair.
var ErrInvalidLocation = errors.New("invalid location")

const osmBase = "https://www.openstreetmap.org/"

// decimalPattern admits plain decimals only; ParseFloat alone also takes hex floats,
// underscores, "Inf" and "NaN".
var decimalPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// Parse converts "lat,lon" into a Coordinate.
func Parse(raw string) (models.Coordinate, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return models.Coordinate{}, fmt.Errorf("%w: expected \"lat,lon\", got %q", ErrInvalidLocation, raw)
	}

	lat, err := parseComponent(parts[0], "latitude")
	if err != nil {
		return models.Coordinate{}, err
	}
	lon, err := parseComponent(parts[1], "longitude")
	if err != nil {
		return models.Coordinate{}, err
	}

	if lat < -90 || lat > 90 {
		return models.Coordinate{}, fmt.Errorf("%w: latitude %v out of range [-90,90]", ErrInvalidLocation, lat)
	}
	if lon < -180 || lon > 180 {
		return models.Coordinate{}, fmt.Errorf("%w: longitude %v out of range [-180,180]", ErrInvalidLocation, lon)
	}

	return models.Coordinate{Latitude: lat, Longitude: lon}, nil
}

func parseComponent(s, name string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: %s is empty", ErrInvalidLocation, name)
	}
	if !decimalPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: %s %q is not a decimal number", ErrInvalidLocation, name, s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s %q is not a finite number", ErrInvalidLocation, name, s)
	}
	return v, nil
}

// Format renders c back into the canonical "lat,lon" form.
func Format(c models.Coordinate) string {
	return formatFloat(c.Latitude) + "," + formatFloat(c.Longitude)
}

// MapLink returns the OpenStreetMap marker link for c.
func MapLink(c models.Coordinate) string {
	lat, lon := formatFloat(c.Latitude), formatFloat(c.Longitude)
	return osmBase + "?mlat=" + lat + "&mlon=" + lon + "#map=15/" + lat + "/" + lon
}

// MapEmbed returns MapLink with the standard layer and a popup describing the alert.
func MapEmbed(c models.Coordinate, name, message string) string {
	popup := fmt.Sprintf("SOS Alert!\nName: %s\nMessage: %s", name, message)
	return MapLink(c) + "&layers=O&popup=" + url.QueryEscape(popup)
}

// EmbedFrame returns the iframe-able export URL centred on c with a marker.
func EmbedFrame(c models.Coordinate) string {
	lat, lon := formatFloat(c.Latitude), formatFloat(c.Longitude)
	q := url.Values{}
	q.Set("bbox", lon+","+lat+","+lon+","+lat)
	q.Set("layer", "mapnik")
	q.Set("marker", lat+","+lon)
	return osmBase + "export/embed.html?" + q.Encode()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
