// Package overpass fetches tagged map geometry from an OpenStreetMap
// Overpass API endpoint.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/hellenic/wildtrails/internal/wildtrails"
)

const DefaultURL = "https://overpass-api.de/api/interpreter"

// Source is the Geometry Source contract shared by the client and its
// caching wrapper.
type Source interface {
	FetchFeatures(ctx context.Context, bbox wildtrails.BoundingBox) ([]wildtrails.Feature, error)
}

// selectors lists the Overpass filters requested for a trail area: terrain
// the accessibility filter rejects and features the landmark selector uses.
var selectors = []string{
	`way["natural"~"^(water|wetland)$"]`,
	`relation["natural"~"^(water|wetland)$"]`,
	`way["waterway"]`,
	`way["building"]`,
	`way["landuse"~"^(reservoir|basin|residential|industrial|commercial|cemetery)$"]`,
	`relation["landuse"~"^(residential|industrial|commercial|cemetery)$"]`,
	`way["amenity"="grave_yard"]`,
	`way["leisure"~"^(swimming_pool|garden)$"]`,
	`node["natural"~"^(peak|rock|stone|tree)$"]`,
	`node["man_made"~"^(tower|mast)$"]`,
	`way["man_made"="tower"]`,
	`node["historic"]`,
	`way["historic"]`,
	`node["tourism"~"^(viewpoint|attraction|information)$"]`,
	`node["amenity"~"^(shelter|parking|place_of_worship)$"]`,
	`way["amenity"~"^(shelter|parking|place_of_worship)$"]`,
	`way["building"~"^(church|chapel)$"]`,
}

type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

func New(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Query renders the Overpass QL request for bbox.
func Query(bbox wildtrails.BoundingBox, timeout time.Duration) string {
	area := fmt.Sprintf("(%.6f,%.6f,%.6f,%.6f)", bbox.South(), bbox.West(), bbox.North(), bbox.East())
	secs := int(timeout.Seconds())
	if secs <= 0 {
		secs = 25
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n(\n", secs)
	for _, s := range selectors {
		b.WriteString("  ")
		b.WriteString(s)
		b.WriteString(area)
		b.WriteString(";\n")
	}
	b.WriteString(");\nout geom;")
	return b.String()
}

// FetchFeatures downloads and decodes every relevant feature inside bbox.
func (c *Client) FetchFeatures(ctx context.Context, bbox wildtrails.BoundingBox) ([]wildtrails.Feature, error) {
	form := url.Values{"data": {Query(bbox, c.http.Timeout)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building overpass request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling overpass: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("overpass status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	features, err := Decode(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Info("overpass features fetched",
		"count", len(features),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return features, nil
}

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type member struct {
	Type     string   `json:"type"`
	Role     string   `json:"role"`
	Geometry []latLon `json:"geometry"`
}

type element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Tags     map[string]string `json:"tags"`
	Geometry []latLon          `json:"geometry"`
	Members  []member          `json:"members"`
}

type response struct {
	Elements []element `json:"elements"`
}

// Decode converts an Overpass JSON document produced with "out geom" into
// features. Closed ways become polygons, open ways lines, and the outer
// rings of multipolygon relations become polygons carrying the relation's
// tags. Untagged elements are dropped.
func Decode(r io.Reader) ([]wildtrails.Feature, error) {
	var doc response
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding overpass response: %w", err)
	}

	var out []wildtrails.Feature
	for _, el := range doc.Elements {
		if len(el.Tags) == 0 {
			continue
		}
		switch el.Type {
		case "node":
			out = append(out, wildtrails.Feature{
				ID:       el.ID,
				Shape:    wildtrails.ShapePoint,
				Tags:     el.Tags,
				Geometry: []wildtrails.Point{{Lat: el.Lat, Lng: el.Lon}},
			})
		case "way":
			pts := toPoints(el.Geometry)
			if len(pts) < 2 {
				continue
			}
			shape := wildtrails.ShapeLine
			if closed(pts) {
				shape = wildtrails.ShapePolygon
			}
			out = append(out, wildtrails.Feature{ID: el.ID, Shape: shape, Tags: el.Tags, Geometry: pts})
		case "relation":
			if el.Tags["type"] != "multipolygon" {
				continue
			}
			var parts [][]wildtrails.Point
			for _, m := range el.Members {
				if m.Type != "way" || m.Role != "outer" {
					continue
				}
				if pts := toPoints(m.Geometry); len(pts) >= 2 {
					parts = append(parts, pts)
				}
			}
			rings, open := stitch(parts)
			for _, ring := range rings {
				out = append(out, wildtrails.Feature{ID: el.ID, Shape: wildtrails.ShapePolygon, Tags: el.Tags, Geometry: ring})
			}
			for _, line := range open {
				out = append(out, wildtrails.Feature{ID: el.ID, Shape: wildtrails.ShapeLine, Tags: el.Tags, Geometry: line})
			}
		}
	}
	return out, nil
}

func closed(pts []wildtrails.Point) bool {
	return len(pts) >= 4 && pts[0] == pts[len(pts)-1]
}

// stitch joins way fragments that share endpoints into closed rings. OSM
// splits large outer boundaries over several ways, in any order and
// direction. Chains that never close come back as open lines so no
// boundary is invented between their ends.
func stitch(parts [][]wildtrails.Point) (rings, open [][]wildtrails.Point) {
	var pending [][]wildtrails.Point
	for _, p := range parts {
		if closed(p) {
			rings = append(rings, p)
		} else {
			pending = append(pending, p)
		}
	}

	for len(pending) > 0 {
		chain := slices.Clone(pending[0])
		pending = pending[1:]

		for grown := true; grown && !closed(chain); {
			grown = false
			for i, p := range pending {
				head, tail := chain[0], chain[len(chain)-1]
				switch {
				case p[0] == tail:
					chain = append(chain, p[1:]...)
				case p[len(p)-1] == tail:
					chain = append(chain, reversed(p)[1:]...)
				case p[len(p)-1] == head:
					chain = append(slices.Clone(p[:len(p)-1]), chain...)
				case p[0] == head:
					chain = append(reversed(p)[:len(p)-1], chain...)
				default:
					continue
				}
				pending = slices.Delete(pending, i, i+1)
				grown = true
				break
			}
		}

		if closed(chain) {
			rings = append(rings, chain)
		} else {
			open = append(open, chain)
		}
	}
	return rings, open
}

func reversed(pts []wildtrails.Point) []wildtrails.Point {
	out := slices.Clone(pts)
	slices.Reverse(out)
	return out
}

func toPoints(geom []latLon) []wildtrails.Point {
	pts := make([]wildtrails.Point, len(geom))
	for i, g := range geom {
		pts[i] = wildtrails.Point{Lat: g.Lat, Lng: g.Lon}
	}
	return pts
}
