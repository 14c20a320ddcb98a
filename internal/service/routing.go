package service

import (
	"container/heap"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/shiva/tailwind/internal/model"
	"github.com/shiva/tailwind/pkg/geo"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrInvalidSegment     = errors.New("max segment length must be positive")
	ErrNoRoute            = errors.New("no route within segment limit")
)

// ─── Configuration ──────────────────────────────────────────

// RoutingConfig holds the path-search parameters.
type RoutingConfig struct {
	MaxSegmentKm   float64 // Longest allowed hop between consecutive waypoints.
	CruiseSpeedKmh float64 // Used to spread waypoint timestamps over the planned duration.
}

// DefaultRoutingConfig returns the nominal routing parameters.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		MaxSegmentKm:   500,
		CruiseSpeedKmh: 500,
	}
}

// waypointNamespace seeds deterministic waypoint IDs.
var waypointNamespace = uuid.MustParse("6f1f4a52-3c1e-4a8e-9d0b-2b7f0c1d9e11")

// ─── RoutingService ─────────────────────────────────────────

// RoutingService computes terrain-weighted routes between two points.
//
// Algorithm overview:
//
//  1. SAMPLE: place nodes along the great circle every MaxSegmentKm/2.
//  2. CONNECT: link each node to the next one and the one after, as long as
//     the hop stays within MaxSegmentKm.
//  3. WEIGHT: edge cost = hop distance / terrain modifier at the hop midpoint.
//  4. SEARCH: Dijkstra from the first node to the last. Ties go to the lower
//     node index and a path is only replaced on a strictly lower cost, so
//     identical inputs always yield identical routes.
//
// Complexity: O(N log N) for N = distance / (MaxSegmentKm/2) nodes.
type RoutingService struct {
	cfg RoutingConfig
	now func() time.Time
}

// RoutingOption configures a RoutingService.
type RoutingOption func(*RoutingService)

// WithRoutingClock overrides the departure clock used for waypoint timestamps.
func WithRoutingClock(now func() time.Time) RoutingOption {
	return func(s *RoutingService) { s.now = now }
}

// NewRoutingService creates a routing service.
func NewRoutingService(cfg RoutingConfig, opts ...RoutingOption) *RoutingService {
	def := DefaultRoutingConfig()
	if cfg.MaxSegmentKm <= 0 {
		cfg.MaxSegmentKm = def.MaxSegmentKm
	}
	if cfg.CruiseSpeedKmh <= 0 {
		cfg.CruiseSpeedKmh = def.CruiseSpeedKmh
	}
	s := &RoutingService{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CalculateRoute computes the lowest-cost route from start to end, departing now.
// Returns ErrInvalidCoordinates for non-finite or out-of-range inputs.
func (s *RoutingService) CalculateRoute(start, end model.GeoPoint) (*model.Route, error) {
	return s.CalculateRouteAt(start, end, s.now())
}

// RecalculateRoute replans from the current position to the destination.
func (s *RoutingService) RecalculateRoute(current, destination model.GeoPoint) (*model.Route, error) {
	route, err := s.CalculateRoute(current, destination)
	if err != nil {
		return nil, err
	}
	log.Printf("[route] Recalculated from (%.4f,%.4f): %.1f km remaining",
		current.Lat, current.Lon, route.TotalDistanceKm)
	return route, nil
}

// CalculateRouteAt is CalculateRoute with an explicit departure time.
func (s *RoutingService) CalculateRouteAt(start, end model.GeoPoint, departAt time.Time) (*model.Route, error) {
	if !geo.Valid(start) || !geo.Valid(end) {
		return nil, fmt.Errorf("calculate route: %w", ErrInvalidCoordinates)
	}

	distance := geo.DistanceKm(start, end)

	// ── Degenerate: same place ──────────────────────────
	if distance < geo.CoincidentKm {
		path := s.materialize([]model.GeoPoint{start, end}, departAt)
		return &model.Route{
			Path:            path,
			TotalDistanceKm: distance,
			TotalCost:       distance / geo.TerrainModifier(geo.ClassifyTerrain(start)),
		}, nil
	}

	// ── Step 1: SAMPLE nodes ────────────────────────────
	spacing := s.cfg.MaxSegmentKm / 2
	steps := int(math.Ceil(distance / spacing))
	if steps < 1 {
		steps = 1
	}
	nodes := make([]model.GeoPoint, steps+1)
	for i := 0; i <= steps; i++ {
		nodes[i] = geo.Interpolate(start, end, float64(i)/float64(steps))
	}
	nodes[0] = start
	nodes[steps] = end

	// ── Step 2–4: CONNECT, WEIGHT, SEARCH ───────────────
	order, cost, err := s.shortestPath(nodes)
	if err != nil {
		log.Printf("[route] (%.4f,%.4f)→(%.4f,%.4f): %v", start.Lat, start.Lon, end.Lat, end.Lon, err)
		return nil, fmt.Errorf("calculate route: %w", err)
	}

	chosen := make([]model.GeoPoint, len(order))
	for i, idx := range order {
		chosen[i] = nodes[idx]
	}

	route := &model.Route{
		Path:            s.materialize(chosen, departAt),
		TotalDistanceKm: geo.PathDistanceKm(chosen),
		TotalCost:       cost,
	}

	log.Printf("[route] (%.4f,%.4f)→(%.4f,%.4f): %d nodes, %d waypoints, %.1f km, cost %.1f",
		start.Lat, start.Lon, end.Lat, end.Lon, len(nodes), len(route.Path),
		route.TotalDistanceKm, route.TotalCost)

	return route, nil
}

// GenerateWaypoints splits the great circle from start to end into equal hops
// no longer than maxSegmentKm. The result always has at least two waypoints
// and timestamps are spread linearly from departAt over the planned duration.
func (s *RoutingService) GenerateWaypoints(start, end model.GeoPoint, maxSegmentKm float64, departAt time.Time) ([]model.Waypoint, error) {
	if !geo.Valid(start) || !geo.Valid(end) {
		return nil, fmt.Errorf("generate waypoints: %w", ErrInvalidCoordinates)
	}
	if maxSegmentKm <= 0 || math.IsNaN(maxSegmentKm) {
		return nil, fmt.Errorf("generate waypoints: %w", ErrInvalidSegment)
	}

	distance := geo.DistanceKm(start, end)
	segments := 1
	if distance >= geo.CoincidentKm {
		segments = int(math.Ceil(distance / maxSegmentKm))
		if segments < 1 {
			segments = 1
		}
	}

	points := make([]model.GeoPoint, segments+1)
	for i := 0; i <= segments; i++ {
		points[i] = geo.Interpolate(start, end, float64(i)/float64(segments))
	}
	points[0] = start
	points[segments] = end

	return s.materialize(points, departAt), nil
}

// shortestPath runs Dijkstra over the sampled nodes and returns the node
// indices of the cheapest path plus its cost. It fails with ErrNoRoute when
// the last node cannot be reached.
func (s *RoutingService) shortestPath(nodes []model.GeoPoint) ([]int, float64, error) {
	n := len(nodes)
	dist := make([]float64, n)
	prev := make([]int, n)
	done := make([]bool, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}
	dist[0] = 0

	pq := &nodeQueue{{index: 0, cost: 0}}
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(nodeItem)
		if done[cur.index] {
			continue
		}
		done[cur.index] = true
		if cur.index == n-1 {
			break
		}

		for hop := 1; hop <= 2; hop++ {
			next := cur.index + hop
			if next >= n {
				break
			}
			span := geo.DistanceKm(nodes[cur.index], nodes[next])
			if span > s.cfg.MaxSegmentKm+1e-9 {
				continue
			}
			candidate := dist[cur.index] + s.edgeCost(nodes[cur.index], nodes[next], span)
			// Strict improvement only: equal-cost alternatives keep the path found first.
			if candidate < dist[next] {
				dist[next] = candidate
				prev[next] = cur.index
				heap.Push(pq, nodeItem{index: next, cost: candidate})
			}
		}
	}

	if math.IsInf(dist[n-1], 1) {
		return nil, 0, ErrNoRoute
	}

	var order []int
	for at := n - 1; at != -1; at = prev[at] {
		order = append(order, at)
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, dist[n-1], nil
}

// edgeCost is the hop distance scaled by the terrain under the hop midpoint.
func (s *RoutingService) edgeCost(a, b model.GeoPoint, span float64) float64 {
	terrain := geo.ClassifyTerrain(geo.Midpoint(a, b))
	return span / geo.TerrainModifier(terrain)
}

// materialize turns points into waypoints with terrain, altitude and
// timestamps interpolated by cumulative distance.
func (s *RoutingService) materialize(points []model.GeoPoint, departAt time.Time) []model.Waypoint {
	total := geo.PathDistanceKm(points)
	duration := time.Duration(total / s.cfg.CruiseSpeedKmh * float64(time.Hour))

	path := make([]model.Waypoint, len(points))
	covered := 0.0
	for i, p := range points {
		if i > 0 {
			covered += geo.DistanceKm(points[i-1], p)
		}
		ts := departAt
		if total > 0 {
			ts = departAt.Add(time.Duration(float64(duration) * (covered / total)))
		}
		terrain := geo.ClassifyTerrain(p)
		path[i] = model.Waypoint{
			ID:        waypointID(p, i),
			Location:  p,
			Terrain:   terrain,
			AltitudeM: geo.CruiseAltitudeM(terrain),
			Timestamp: ts,
		}
	}

	// Float rounding must never make a later waypoint earlier.
	for i := 1; i < len(path); i++ {
		if path[i].Timestamp.Before(path[i-1].Timestamp) {
			path[i].Timestamp = path[i-1].Timestamp
		}
	}
	return path
}

func waypointID(p model.GeoPoint, seq int) string {
	key := fmt.Sprintf("%d:%.6f:%.6f", seq, p.Lat, p.Lon)
	return uuid.NewSHA1(waypointNamespace, []byte(key)).String()
}

// ─── Priority queue ─────────────────────────────────────────

type nodeItem struct {
	index int
	cost  float64
}

// nodeQueue is a min-heap on cost, then node index.
type nodeQueue []nodeItem

func (q nodeQueue) Len() int { return len(q) }

func (q nodeQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].index < q[j].index
}

func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *nodeQueue) Push(x any) { *q = append(*q, x.(nodeItem)) }

func (q *nodeQueue) Pop() any {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}
