package api

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/twpayne/go-polyline"
	"go.uber.org/zap"

	"turn_router/pkg/metrics"
	"turn_router/pkg/routing"
)

const maxBodyBytes = 1024

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	router   routing.Router
	stats    StatsResponse
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandlers creates handlers with the given router.
func NewHandlers(router routing.Router, stats StatsResponse, logger *zap.Logger) *Handlers {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names so errors point at "start" and "end".
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handlers{router: router, stats: stats, validate: v, logger: logger}
}

// HandleRoute handles POST /api/v1/route.
func (h *Handlers) HandleRoute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req RouteRequest
	if err := render.Bind(r, &req); err != nil {
		metrics.RouteRequests.WithLabelValues("invalid").Inc()
		writeError(w, r, http.StatusBadRequest, "invalid_request", "")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		metrics.RouteRequests.WithLabelValues("invalid").Inc()
		field := invalidField(err)
		code := "invalid_request"
		if field == "start" || field == "end" {
			code = "invalid_coordinates"
		}
		writeError(w, r, http.StatusBadRequest, code, field)
		return
	}

	start := time.Now()
	result, err := h.router.Route(r.Context(),
		routing.LatLng{Lat: req.Start.Lat, Lng: req.Start.Lng},
		routing.LatLng{Lat: req.End.Lat, Lng: req.End.Lng})
	metrics.RouteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		h.routeError(w, r, err)
		return
	}
	metrics.RouteRequests.WithLabelValues("ok").Inc()

	resp := RouteResponse{
		TravelTimeSeconds:   result.TravelTimeSeconds,
		TotalDistanceMeters: result.TotalDistanceMeters,
		Segments:            make([]SegmentJSON, 0, len(result.Segments)),
	}
	var coords [][]float64
	for _, seg := range result.Segments {
		out := SegmentJSON{RoadID: seg.RoadID, DistanceMeters: seg.DistanceMeters}
		if req.Geometry == GeometryPolyline {
			for _, ll := range seg.Geometry {
				if n := len(coords); n > 0 && coords[n-1][0] == ll.Lat && coords[n-1][1] == ll.Lng {
					continue
				}
				coords = append(coords, []float64{ll.Lat, ll.Lng})
			}
		} else {
			out.Geometry = make([]LatLngJSON, len(seg.Geometry))
			for i, ll := range seg.Geometry {
				out.Geometry[i] = LatLngJSON{Lat: ll.Lat, Lng: ll.Lng}
			}
		}
		resp.Segments = append(resp.Segments, out)
	}
	if req.Geometry == GeometryPolyline {
		resp.Polyline = string(polyline.EncodeCoords(coords))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

func (h *Handlers) routeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, routing.ErrPointTooFar):
		metrics.RouteRequests.WithLabelValues("too_far").Inc()
		writeError(w, r, http.StatusUnprocessableEntity, "point_too_far_from_road", "")
	case errors.Is(err, routing.ErrNoRoute):
		metrics.RouteRequests.WithLabelValues("no_route").Inc()
		writeError(w, r, http.StatusNotFound, "no_route_found", "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.RouteRequests.WithLabelValues("timeout").Inc()
		writeError(w, r, http.StatusServiceUnavailable, "request_timeout", "")
	default:
		metrics.RouteRequests.WithLabelValues("error").Inc()
		h.logger.Error("route failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{Status: "ok"})
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.stats)
}

// invalidField returns the top-level request field of the first validation
// failure, e.g. "start" for start.lat.
func invalidField(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ""
	}
	parts := strings.Split(verrs[0].Namespace(), ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, field string) {
	_ = render.Render(w, r, &ErrorResponse{HTTPStatusCode: status, Error: code, Field: field})
}
