// Package selection scores and ranks candidate tiers for a message
// using live orchestrator snapshots. Selection is read-only: it never
// mutates tier state, and every call works from a fresh per-request
// context so concurrent selections cannot observe each other.
package selection

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/orchestrator"
)

// ErrNoAvailableTier is returned when every candidate is open with no
// half-open trial slot left.
var ErrNoAvailableTier = errors.New("no available tier")

// Strategy names a fixed scoring profile. The set is closed; Select
// dispatches exhaustively over it.
type Strategy int

const (
	RoundRobin Strategy = iota
	WeightedRandom
	LowestLatency
	HighestSuccess
	LoadAware
)

func (s Strategy) String() string {
	switch s {
	case RoundRobin:
		return "round_robin"
	case WeightedRandom:
		return "weighted_random"
	case LowestLatency:
		return "lowest_latency"
	case HighestSuccess:
		return "highest_success"
	case LoadAware:
		return "load_aware"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a config string to a Strategy, defaulting to
// LoadAware for unrecognized values.
func ParseStrategy(s string) Strategy {
	switch s {
	case "round_robin":
		return RoundRobin
	case "weighted_random":
		return WeightedRandom
	case "lowest_latency":
		return LowestLatency
	case "highest_success":
		return HighestSuccess
	default:
		return LoadAware
	}
}

// SystemLoad is the live utilization view at selection time, supplied
// by the resilience layer's bulkhead counters.
type SystemLoad struct {
	InFlight   map[domain.TierID]int
	Capacity   map[domain.TierID]int
	QueueDepth int
}

// Utilization returns in-flight/capacity for a tier, 0 when unknown.
func (l SystemLoad) Utilization(id domain.TierID) float64 {
	cap := l.Capacity[id]
	if cap <= 0 {
		return 0
	}
	u := float64(l.InFlight[id]) / float64(cap)
	if u > 1 {
		u = 1
	}
	return u
}

// PerformanceHistory summarizes recent behavior of one tier.
type PerformanceHistory struct {
	SuccessRate float64
	AvgLatency  time.Duration
}

// Context is the per-request snapshot driving one selection decision.
// Build a fresh Context per call; never share across requests.
type Context struct {
	Priority  domain.MessagePriority
	Recipient domain.RecipientAvailability
	Load      SystemLoad
	History   map[domain.TierID]PerformanceHistory
}

// Score is the weighted evaluation of one candidate.
type Score struct {
	Tier         domain.TierID
	Total        float64
	Health       float64
	Performance  float64
	Load         float64
	Availability float64
}

// Selection is the immutable result of one Select call.
type Selection struct {
	Tier   domain.TierID
	Score  Score
	Ranked []Score
}

// Weights are the scoring factors for one strategy. They are exposed
// through config so deployments can tune them without a rebuild.
type Weights struct {
	Health      float64 `yaml:"health"`
	Performance float64 `yaml:"performance"`
	Load        float64 `yaml:"load"`
	Recipient   float64 `yaml:"recipient"`
}

// defaultWeights per strategy. The exact factors are deployment
// tunables; these defaults favor each strategy's namesake dimension.
func defaultWeights(s Strategy) Weights {
	switch s {
	case LowestLatency:
		return Weights{Health: 0.2, Performance: 0.6, Load: 0.1, Recipient: 0.1}
	case HighestSuccess:
		return Weights{Health: 0.3, Performance: 0.5, Load: 0.1, Recipient: 0.1}
	case LoadAware:
		return Weights{Health: 0.25, Performance: 0.25, Load: 0.4, Recipient: 0.1}
	default: // RoundRobin and WeightedRandom rank by a balanced score
		return Weights{Health: 0.3, Performance: 0.3, Load: 0.3, Recipient: 0.1}
	}
}

// Selector ranks tiers against orchestrator snapshots.
type Selector struct {
	core     *orchestrator.Core
	strategy Strategy
	weights  Weights

	mu     sync.Mutex
	rrNext int
	rng    *rand.Rand
}

// Option customizes a Selector.
type Option func(*Selector)

// WithWeights overrides the strategy's default scoring weights.
func WithWeights(w Weights) Option {
	return func(s *Selector) {
		if w.Health+w.Performance+w.Load+w.Recipient > 0 {
			s.weights = w
		}
	}
}

// WithSeed fixes the weighted-random source, for reproducible tests.
func WithSeed(seed int64) Option {
	return func(s *Selector) { s.rng = rand.New(rand.NewSource(seed)) }
}

// New creates a Selector reading from core.
func New(core *orchestrator.Core, strategy Strategy, opts ...Option) *Selector {
	s := &Selector{
		core:     core,
		strategy: strategy,
		weights:  defaultWeights(strategy),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select ranks the candidates for ctx and picks one according to the
// strategy. Only read access to core snapshots occurs here; outcome
// recording is the caller's job after the actual send.
func (s *Selector) Select(candidates []domain.TierID, ctx Context) (Selection, error) {
	scores := make([]Score, 0, len(candidates))
	for _, id := range candidates {
		snap, ok := s.core.Snapshot(id)
		if !ok {
			continue
		}
		// Open circuits without a trial slot are not candidates at all.
		if snap.Circuit == orchestrator.CircuitOpen {
			continue
		}
		if snap.Circuit == orchestrator.CircuitHalfOpen && !s.core.TrialAvailable(id) {
			continue
		}
		scores = append(scores, s.score(snap, ctx))
	}

	if len(scores) == 0 {
		return Selection{}, ErrNoAvailableTier
	}

	rankScores(scores, ctx.Load)

	chosen := s.pick(scores, ctx)
	return Selection{Tier: chosen.Tier, Score: chosen, Ranked: scores}, nil
}

// score computes the weighted total for one eligible tier.
func (s *Selector) score(snap orchestrator.TierSnapshot, ctx Context) Score {
	sc := Score{Tier: snap.ID}

	switch snap.Health {
	case orchestrator.HealthHealthy:
		sc.Health = 1.0
	case orchestrator.HealthDegraded:
		sc.Health = 0.5
	case orchestrator.HealthUnknown:
		sc.Health = 0.7 // unproven beats known-bad, trails proven-good
	default:
		sc.Health = 0.0
	}

	sc.Performance = performanceScore(snap, ctx.History[snap.ID])
	sc.Load = 1.0 - ctx.Load.Utilization(snap.ID)
	sc.Availability = recipientScore(ctx.Recipient)

	w := s.weights.biased(ctx.Priority)
	sc.Total = sc.Health*w.Health +
		sc.Performance*w.Performance +
		sc.Load*w.Load +
		sc.Availability*w.Recipient
	return sc
}

// biased shifts weights by message priority: urgent messages buy
// reliability at a latency cost, low-priority traffic spares premium
// capacity by leaning on the load dimension.
func (w Weights) biased(p domain.MessagePriority) Weights {
	switch p {
	case domain.PriorityCritical:
		w.Health *= 1.6
		w.Performance *= 1.3
		w.Load *= 0.5
	case domain.PriorityHigh:
		w.Health *= 1.3
		w.Performance *= 1.1
		w.Load *= 0.8
	case domain.PriorityLow:
		w.Health *= 0.7
		w.Load *= 1.5
	}
	return w
}

func performanceScore(snap orchestrator.TierSnapshot, hist PerformanceHistory) float64 {
	successRate := 1.0 - snap.ErrorRate
	if hist.SuccessRate > 0 {
		// Blend live window with longer-horizon history.
		successRate = 0.7*successRate + 0.3*hist.SuccessRate
	}

	latency := snap.AvgLatency
	if latency == 0 {
		latency = hist.AvgLatency
	}
	// Latency maps to (0,1]: 0 at +inf, 1 at instant, 0.5 at 1s.
	latencyScore := 1.0 / (1.0 + latency.Seconds())

	return 0.6*successRate + 0.4*latencyScore
}

func recipientScore(a domain.RecipientAvailability) float64 {
	switch a {
	case domain.AvailabilityOnline:
		return 1.0
	case domain.AvailabilityRecent:
		return 0.7
	case domain.AvailabilityIdle:
		return 0.4
	default:
		return 0.5
	}
}

// rankScores orders by total descending, breaking ties by lower current
// load and then tier id so identical inputs always rank identically.
func rankScores(scores []Score, load SystemLoad) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		li, lj := load.InFlight[scores[i].Tier], load.InFlight[scores[j].Tier]
		if li != lj {
			return li < lj
		}
		return scores[i].Tier < scores[j].Tier
	})
}

// pick applies the strategy to the ranked scores.
func (s *Selector) pick(ranked []Score, ctx Context) Score {
	switch s.strategy {
	case RoundRobin:
		// Critical traffic always takes the top-ranked tier; rotation
		// is for traffic that can afford to spread.
		if ctx.Priority == domain.PriorityCritical {
			return ranked[0]
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		idx := s.rrNext % len(ranked)
		s.rrNext++
		return ranked[idx]

	case WeightedRandom:
		if ctx.Priority == domain.PriorityCritical {
			return ranked[0]
		}
		return s.weightedPick(ranked)

	default:
		// LowestLatency, HighestSuccess and LoadAware express their
		// preference through the weights; the top rank wins.
		return ranked[0]
	}
}

func (s *Selector) weightedPick(ranked []Score) Score {
	var total float64
	for _, sc := range ranked {
		if sc.Total > 0 {
			total += sc.Total
		}
	}
	if total <= 0 {
		return ranked[0]
	}

	s.mu.Lock()
	r := s.rng.Float64() * total
	s.mu.Unlock()

	for _, sc := range ranked {
		if sc.Total <= 0 {
			continue
		}
		r -= sc.Total
		if r <= 0 {
			return sc
		}
	}
	return ranked[len(ranked)-1]
}
