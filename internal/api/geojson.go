package api

import (
	"github.com/RefatHex/ResQ/internal/alerting"
	"github.com/RefatHex/ResQ/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func reportFeature(r models.Report) Feature {
	tags := make([]string, len(r.Tags))
	for i, t := range r.Tags {
		tags[i] = t.Name
	}
	return Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type:        "Point",
			Coordinates: []float64{r.Location.Longitude, r.Location.Latitude},
		},
		Properties: map[string]any{
			"id":            r.ID,
			"reporter_id":   r.ReporterID,
			"reporter_type": r.ReporterType,
			"report_type":   r.ReportType,
			"description":   r.Description,
			"is_emergency":  r.IsEmergency,
			"status":        r.Status,
			"tags":          tags,
			"created_at":    r.CreatedAt,
		},
	}
}

func reportsToGeoJSON(reports []models.Report) FeatureCollection {
	features := make([]Feature, 0, len(reports))
	for _, r := range reports {
		features = append(features, reportFeature(r))
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}

// nearbyToGeoJSON keeps the nearest-first order and adds distance_km.
func nearbyToGeoJSON(nearby []alerting.NearbyReport) FeatureCollection {
	features := make([]Feature, 0, len(nearby))
	for _, n := range nearby {
		f := reportFeature(n.Report)
		f.Properties["distance_km"] = n.DistanceKm
		features = append(features, f)
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}
