// Package hint writes the clue text attached to each generated waypoint.
//
// Prose comes from an external text oracle. Whenever the oracle is missing,
// slow or failing, a deterministic template built from distances and compass
// directions is used instead, so hint generation never blocks a trail.
package hint

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hellenic/wildtrails/internal/geo"
	"github.com/hellenic/wildtrails/internal/wildtrails"
)

const (
	maxPromptFeatures   = 10
	maxFallbackFeatures = 2

	defaultTimeout     = 20 * time.Second
	defaultTemperature = 0.7
)

// Tier controls how precise a hint is.
type Tier string

const (
	TierEarly  Tier = "early"
	TierMiddle Tier = "middle"
	TierLate   Tier = "late"
)

// TierFor places clue index (1-based) of total on the early/middle/late scale.
func TierFor(index, total int) Tier {
	if total <= 0 {
		return TierLate
	}
	ratio := float64(index) / float64(total)
	switch {
	case ratio <= 0.33:
		return TierEarly
	case ratio <= 0.66:
		return TierMiddle
	default:
		return TierLate
	}
}

// Oracle turns a prompt into prose. Implementations may fail or time out.
type Oracle interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

type Request struct {
	Tier     Tier
	Waypoint wildtrails.Point
	Start    wildtrails.Point
	Goal     wildtrails.Point
	Nearby   []wildtrails.Landmark
}

type Synthesizer struct {
	oracle      Oracle
	logger      *slog.Logger
	timeout     time.Duration
	temperature float64
}

type Option func(*Synthesizer)

// WithTimeout bounds each oracle call.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.timeout = d }
}

func WithTemperature(t float64) Option {
	return func(s *Synthesizer) { s.temperature = t }
}

// New returns a Synthesizer. A nil oracle makes every hint use the fallback.
func New(oracle Oracle, logger *slog.Logger, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		oracle:      oracle,
		logger:      logger,
		timeout:     defaultTimeout,
		temperature: defaultTemperature,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hint returns the clue text for req. It never fails.
func (s *Synthesizer) Hint(ctx context.Context, req Request) string {
	if s == nil || s.oracle == nil {
		return Fallback(req)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.oracle.Complete(ctx, Prompt(req), s.temperature)
	if err != nil {
		s.logger.Warn("hint oracle failed, using fallback", "tier", req.Tier, "error", err)
		return Fallback(req)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Warn("hint oracle returned empty text, using fallback", "tier", req.Tier)
		return Fallback(req)
	}
	return text
}

// Fallback renders the deterministic hint: distance and direction to the
// goal, followed by up to two nearby features.
func Fallback(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The goal is approximately %.1fkm %s.",
		geo.DistanceKm(req.Waypoint, req.Goal),
		geo.Cardinal(geo.Bearing(req.Waypoint, req.Goal)))

	n := min(len(req.Nearby), maxFallbackFeatures)
	if n == 0 {
		return b.String()
	}
	clauses := make([]string, n)
	for i, lm := range req.Nearby[:n] {
		clauses[i] = featureClause(lm, req.Goal)
	}
	b.WriteString(" Nearby: ")
	b.WriteString(strings.Join(clauses, "; "))
	b.WriteString(".")
	return b.String()
}

// featureClause describes a feature together with the distance and
// direction from that feature to the goal. Never the reverse.
func featureClause(lm wildtrails.Landmark, goal wildtrails.Point) string {
	label := lm.Type
	if lm.Name != "" {
		label += " " + lm.Name
	}
	return fmt.Sprintf("%s, %.1fkm %s", label,
		geo.DistanceKm(lm.Position, goal),
		geo.Cardinal(geo.Bearing(lm.Position, goal)))
}

var tierGuidance = map[Tier]string{
	TierEarly: "This is an early clue. Be vague: mention only the general direction " +
		"and rough distance, and at most one landmark in passing.",
	TierMiddle: "This is a middle clue. Be moderately specific: refer to one or two of " +
		"the listed landmarks and how the goal relates to them.",
	TierLate: "This is a late clue. Be precise: give a clear direction and distance " +
		"and use the nearest landmarks to pin the goal down.",
}

// Prompt builds the oracle prompt for req.
func Prompt(req Request) string {
	var b strings.Builder
	b.WriteString("You write short clues for an outdoor treasure hunt. ")
	b.WriteString("Players stand at a waypoint and must find a hidden goal.\n\n")
	b.WriteString(tierGuidance[req.Tier])
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Start: %.6f, %.6f\n", req.Start.Lat, req.Start.Lng)
	fmt.Fprintf(&b, "Goal: %.6f, %.6f\n", req.Goal.Lat, req.Goal.Lng)
	fmt.Fprintf(&b, "Waypoint: %.6f, %.6f\n", req.Waypoint.Lat, req.Waypoint.Lng)
	fmt.Fprintf(&b, "From the waypoint the goal is %.2fkm %s.\n",
		geo.DistanceKm(req.Waypoint, req.Goal),
		geo.Cardinal(geo.Bearing(req.Waypoint, req.Goal)))

	n := min(len(req.Nearby), maxPromptFeatures)
	if n > 0 {
		b.WriteString("\nNearby features (each line gives where the goal lies as seen from that feature):\n")
		for _, lm := range req.Nearby[:n] {
			fmt.Fprintf(&b, "- %s: goal is %.2fkm %s of it\n", featureLabel(lm),
				geo.DistanceKm(lm.Position, req.Goal),
				geo.Cardinal(geo.Bearing(lm.Position, req.Goal)))
		}
	}

	b.WriteString("\nNever reveal coordinates. Answer with one or two sentences of clue text only.")
	return b.String()
}

func featureLabel(lm wildtrails.Landmark) string {
	if lm.Name != "" {
		return fmt.Sprintf("%s %q", lm.Type, lm.Name)
	}
	return lm.Type
}
