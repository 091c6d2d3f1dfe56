package api

import (
	"net/http"

	"github.com/go-chi/render"
)

// Geometry encodings accepted in RouteRequest.Geometry.
const (
	GeometryPoints   = "points"
	GeometryPolyline = "polyline"
)

// RouteRequest is the JSON body for POST /api/v1/route.
type RouteRequest struct {
	Start LatLngJSON `json:"start"`
	End   LatLngJSON `json:"end"`
	// Geometry selects per-segment points (default) or one encoded polyline
	// for the whole route.
	Geometry string `json:"geometry" validate:"omitempty,oneof=points polyline"`
}

// Bind implements render.Binder. Field checks are left to the validator.
func (*RouteRequest) Bind(*http.Request) error { return nil }

// LatLngJSON represents a lat/lng pair in JSON.
type LatLngJSON struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// RouteResponse is the JSON response for a successful route query.
type RouteResponse struct {
	TravelTimeSeconds   float64       `json:"travel_time_seconds"`
	TotalDistanceMeters float64       `json:"total_distance_meters"`
	Polyline            string        `json:"polyline,omitempty"`
	Segments            []SegmentJSON `json:"segments"`
}

// SegmentJSON represents a road segment in the response.
type SegmentJSON struct {
	RoadID         uint32       `json:"road_id"`
	DistanceMeters float64      `json:"distance_meters"`
	Geometry       []LatLngJSON `json:"geometry,omitempty"`
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	HTTPStatusCode int    `json:"-"`
	Error          string `json:"error"`
	Field          string `json:"field,omitempty"`
}

// Render implements render.Renderer.
func (e *ErrorResponse) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// StatsResponse is the JSON response for GET /api/v1/stats.
type StatsResponse struct {
	Mode      string `json:"mode"`
	NumNodes  uint32 `json:"num_nodes"`
	NumEdges  int    `json:"num_edges"`
	NumRoads  int    `json:"num_roads"`
	NumShapes int    `json:"num_shape_points"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}
