package router

import (
	"math/rand"
	"sort"
	"sync"

	"llmgate/internal/models"
)

// Strategy orders a healthy candidate set for dispatch. The router walks the
// returned order on fallback, so position 0 is the primary pick.
type Strategy interface {
	Name() string
	Order(model string, candidates []models.Deployment) []models.Deployment
}

// Stats feeds load/latency-aware strategies. Maintained by the router.
type Stats struct {
	mu       sync.RWMutex
	inFlight map[string]int
	latency  map[string]float64 // EWMA milliseconds
}

func NewStats() *Stats {
	return &Stats{
		inFlight: make(map[string]int),
		latency:  make(map[string]float64),
	}
}

func (s *Stats) DispatchStarted(id string) {
	s.mu.Lock()
	s.inFlight[id]++
	s.mu.Unlock()
}

func (s *Stats) DispatchFinished(id string, latencyMillis float64) {
	s.mu.Lock()
	if s.inFlight[id] > 0 {
		s.inFlight[id]--
	}
	if latencyMillis > 0 {
		prev, ok := s.latency[id]
		if !ok {
			s.latency[id] = latencyMillis
		} else {
			s.latency[id] = prev*0.8 + latencyMillis*0.2
		}
	}
	s.mu.Unlock()
}

func (s *Stats) InFlight(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight[id]
}

func (s *Stats) Latency(id string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latency[id]
}

// NewStrategy builds the named strategy, defaulting to round-robin.
func NewStrategy(name string, stats *Stats) Strategy {
	switch name {
	case "least-busy":
		return &leastBusy{stats: stats}
	case "lowest-latency":
		return &lowestLatency{stats: stats}
	case "weighted-random":
		return &weightedRandom{}
	default:
		return &roundRobin{cursors: make(map[string]int)}
	}
}

// roundRobin rotates the starting position per model group, so every healthy
// candidate takes its turn as the primary pick and none is starved.
type roundRobin struct {
	mu      sync.Mutex
	cursors map[string]int
}

func (s *roundRobin) Name() string { return "round-robin" }

func (s *roundRobin) Order(model string, candidates []models.Deployment) []models.Deployment {
	if len(candidates) <= 1 {
		return candidates
	}
	s.mu.Lock()
	start := s.cursors[model] % len(candidates)
	s.cursors[model]++
	s.mu.Unlock()

	ordered := make([]models.Deployment, 0, len(candidates))
	for i := 0; i < len(candidates); i++ {
		ordered = append(ordered, candidates[(start+i)%len(candidates)])
	}
	return ordered
}

// leastBusy sorts by current in-flight dispatch count.
type leastBusy struct {
	stats *Stats
}

func (s *leastBusy) Name() string { return "least-busy" }

func (s *leastBusy) Order(model string, candidates []models.Deployment) []models.Deployment {
	ordered := append([]models.Deployment(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return s.stats.InFlight(ordered[i].ID) < s.stats.InFlight(ordered[j].ID)
	})
	return ordered
}

// lowestLatency sorts by EWMA dispatch latency; unmeasured deployments sort
// first so new capacity gets probed.
type lowestLatency struct {
	stats *Stats
}

func (s *lowestLatency) Name() string { return "lowest-latency" }

func (s *lowestLatency) Order(model string, candidates []models.Deployment) []models.Deployment {
	ordered := append([]models.Deployment(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return s.stats.Latency(ordered[i].ID) < s.stats.Latency(ordered[j].ID)
	})
	return ordered
}

// weightedRandom picks primaries proportional to deployment weight; the
// remainder is shuffled for fallback.
type weightedRandom struct{}

func (s *weightedRandom) Name() string { return "weighted-random" }

func (s *weightedRandom) Order(model string, candidates []models.Deployment) []models.Deployment {
	if len(candidates) <= 1 {
		return candidates
	}

	remaining := append([]models.Deployment(nil), candidates...)
	ordered := make([]models.Deployment, 0, len(remaining))
	for len(remaining) > 0 {
		total := 0
		for _, d := range remaining {
			total += weightOf(d)
		}
		pick := rand.Intn(total)
		for i, d := range remaining {
			pick -= weightOf(d)
			if pick < 0 {
				ordered = append(ordered, d)
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	return ordered
}

func weightOf(d models.Deployment) int {
	if d.Weight <= 0 {
		return 1
	}
	return d.Weight
}
