// Package reliability keeps a rolling health score per upstream provider and
// decides which providers should be tried, and in what order.
package reliability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current standing of a provider
type State int

// Provider states
const (
	StateTrusted  State = iota // Normal operation
	StateDegraded              // Tried only after trusted providers
	StateExcluded              // Skipped until it recovers or a probe is due
)

func (s State) String() string {
	switch s {
	case StateTrusted:
		return "trusted"
	case StateDegraded:
		return "degraded"
	case StateExcluded:
		return "excluded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tier is the configured trust level of a provider. It only selects the score a
// provider starts with.
type Tier int

// Provider tiers
const (
	TierStandard Tier = iota
	TierTrusted
	TierFallback
)

func (t Tier) String() string {
	switch t {
	case TierTrusted:
		return "trusted"
	case TierStandard:
		return "standard"
	case TierFallback:
		return "fallback"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier converts a configuration string into a Tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trusted":
		return TierTrusted, nil
	case "standard", "":
		return TierStandard, nil
	case "fallback":
		return TierFallback, nil
	}
	return TierStandard, fmt.Errorf("unknown provider tier %q", s)
}

// Options configures the tracker's transitions.
type Options struct {
	// FailureThreshold consecutive failures move a trusted provider to degraded
	FailureThreshold int

	// ScoreFloor: degraded providers below it are excluded, and providers above it
	// may recover
	ScoreFloor float64

	FailurePenalty float64
	SuccessReward  float64

	// RecoveryQuiet is the time since the last failure required before recovery
	RecoveryQuiet time.Duration

	// ProbeInterval lets an excluded provider back at the end of the order once
	// this long has passed since its last failure. Zero disables probing.
	ProbeInterval time.Duration

	DefaultScores map[Tier]float64
}

// DefaultOptions returns the standard tracker configuration.
func DefaultOptions() Options {
	return Options{
		FailureThreshold: 3,
		ScoreFloor:       50,
		FailurePenalty:   15,
		SuccessReward:    5,
		RecoveryQuiet:    0,
		ProbeInterval:    time.Minute,
		DefaultScores: map[Tier]float64{
			TierTrusted:  90,
			TierStandard: 70,
			TierFallback: 60,
		},
	}
}

// ProviderScore is the health record of one provider.
type ProviderScore struct {
	ProviderID          string    `json:"provider_id"`
	Tier                Tier      `json:"-"`
	RollingScore        float64   `json:"rolling_score"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	State               State     `json:"-"`
}

// TransitionFunc is called after a provider changes state.
type TransitionFunc func(providerID string, from, to State, score float64)

type transition struct {
	id       string
	from, to State
	score    float64
}

// Tracker holds the score table. All methods are safe for concurrent use.
type Tracker struct {
	opts Options

	mu     sync.Mutex
	scores map[string]*ProviderScore

	onTransition TransitionFunc
	now          func() time.Time
}

// New creates a Tracker.
func New(opts Options) *Tracker {
	defaults := DefaultOptions()
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = defaults.FailureThreshold
	}
	if opts.DefaultScores == nil {
		opts.DefaultScores = defaults.DefaultScores
	}
	return &Tracker{
		opts:   opts,
		scores: make(map[string]*ProviderScore),
		now:    time.Now,
	}
}

// WithTransitionCallback sets a function called on every state change
func (t *Tracker) WithTransitionCallback(fn TransitionFunc) *Tracker {
	t.onTransition = fn
	return t
}

// WithClock replaces the time source
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Register records a provider with its tier. Registering an existing provider
// only updates its tier.
func (t *Tracker) Register(id string, tier Tier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.scores[id]; ok {
		s.Tier = tier
		return
	}
	t.scores[id] = t.newScore(id, tier)
}

func (t *Tracker) newScore(id string, tier Tier) *ProviderScore {
	return &ProviderScore{ProviderID: id, Tier: tier, RollingScore: t.opts.DefaultScores[tier], State: StateTrusted}
}

// get returns the record for id, creating it on first use. Caller holds mu.
func (t *Tracker) get(id string) *ProviderScore {
	s, ok := t.scores[id]
	if !ok {
		s = t.newScore(id, TierStandard)
		t.scores[id] = s
	}
	return s
}

// RecordFailure lowers the provider's score and may degrade or exclude it.
func (t *Tracker) RecordFailure(id string, err error) {
	t.mu.Lock()
	s := t.get(id)
	from := s.State

	s.ConsecutiveFailures++
	s.RollingScore = clamp(s.RollingScore - t.opts.FailurePenalty)
	s.LastFailureAt = t.now()
	if err != nil {
		s.LastError = err.Error()
	}

	if s.State == StateTrusted && s.ConsecutiveFailures >= t.opts.FailureThreshold {
		s.State = StateDegraded
	}
	if s.State == StateDegraded && s.RollingScore < t.opts.ScoreFloor {
		s.State = StateExcluded
	}
	tr := transition{id: id, from: from, to: s.State, score: s.RollingScore}
	failures := s.ConsecutiveFailures
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"provider": id,
		"score":    tr.score,
		"failures": failures,
		"error":    err,
	}).Debug("Provider fetch failed")
	t.notify(tr)
}

// RecordSuccess resets the failure streak, raises the score and may restore a
// degraded or excluded provider to trusted.
func (t *Tracker) RecordSuccess(id string) {
	t.mu.Lock()
	s := t.get(id)
	from := s.State
	now := t.now()

	s.ConsecutiveFailures = 0
	s.RollingScore = clamp(s.RollingScore + t.opts.SuccessReward)
	s.LastSuccessAt = now

	if s.State != StateTrusted && s.RollingScore > t.opts.ScoreFloor && now.Sub(s.LastFailureAt) >= t.opts.RecoveryQuiet {
		s.State = StateTrusted
		s.LastError = ""
	}
	tr := transition{id: id, from: from, to: s.State, score: s.RollingScore}
	t.mu.Unlock()

	t.notify(tr)
}

func (t *Tracker) notify(tr transition) {
	if tr.from == tr.to {
		return
	}
	entry := logrus.WithFields(logrus.Fields{
		"provider": tr.id,
		"from":     tr.from.String(),
		"to":       tr.to.String(),
		"score":    tr.score,
	})
	if tr.to == StateTrusted {
		entry.Info("Provider recovered")
	} else {
		entry.Warn("Provider degraded")
	}
	if t.onTransition != nil {
		t.onTransition(tr.id, tr.from, tr.to, tr.score)
	}
}

// ShouldDegrade reports whether the provider is not currently trusted.
func (t *Tracker) ShouldDegrade(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(id).State != StateTrusted
}

// Order returns candidates in the order they should be tried: trusted providers
// by score, then degraded ones by score, then excluded providers due for a probe.
// Ties keep the input order. If nothing is eligible, all candidates are returned
// by score so a request is never refused outright.
func (t *Tracker) Order(candidates []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ordered := t.eligible(candidates)
	if len(ordered) > 0 {
		return ordered
	}

	all := make([]string, len(candidates))
	copy(all, candidates)
	sort.SliceStable(all, func(i, j int) bool {
		return t.get(all[i]).RollingScore > t.get(all[j]).RollingScore
	})
	return all
}

// eligible orders the eligible subset of candidates. Caller holds mu.
func (t *Tracker) eligible(candidates []string) []string {
	var trusted, degraded, probes []string
	now := t.now()
	seen := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		if seen[id] {
			continue
		}
		seen[id] = true
		s := t.get(id)
		switch s.State {
		case StateTrusted:
			trusted = append(trusted, id)
		case StateDegraded:
			degraded = append(degraded, id)
		case StateExcluded:
			if t.opts.ProbeInterval > 0 && now.Sub(s.LastFailureAt) >= t.opts.ProbeInterval {
				probes = append(probes, id)
			}
		}
	}
	byScore := func(ids []string) {
		sort.SliceStable(ids, func(i, j int) bool {
			return t.scores[ids[i]].RollingScore > t.scores[ids[j]].RollingScore
		})
	}
	byScore(trusted)
	byScore(degraded)

	out := make([]string, 0, len(trusted)+len(degraded)+len(probes))
	out = append(out, trusted...)
	out = append(out, degraded...)
	return append(out, probes...)
}

// AutoDegrade returns the best eligible candidate other than failed, or false if
// none remain.
func (t *Tracker) AutoDegrade(failed string, candidates []string) (string, bool) {
	rest := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id != failed {
			rest = append(rest, id)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	ordered := t.eligible(rest)
	if len(ordered) == 0 {
		return "", false
	}
	return ordered[0], true
}

// Score returns a copy of one provider's record.
func (t *Tracker) Score(id string) (ProviderScore, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.scores[id]
	if !ok {
		return ProviderScore{}, false
	}
	return *s, true
}

// Scores returns copies of all records sorted by provider ID.
func (t *Tracker) Scores() []ProviderScore {
	t.mu.Lock()
	out := make([]ProviderScore, 0, len(t.scores))
	for _, s := range t.scores {
		out = append(out, *s)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

// Reset restores one provider to its tier's default score and trusted state
func (t *Tracker) Reset(id string) {
	t.mu.Lock()
	tier := TierStandard
	if s, ok := t.scores[id]; ok {
		tier = s.Tier
	}
	t.scores[id] = t.newScore(id, tier)
	t.mu.Unlock()

	logrus.WithField("provider", id).Info("Provider score manually reset")
}

// ResetAll resets every known provider
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	for id, s := range t.scores {
		t.scores[id] = t.newScore(id, s.Tier)
	}
	n := len(t.scores)
	t.mu.Unlock()

	logrus.WithField("providers", n).Info("All provider scores manually reset")
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
