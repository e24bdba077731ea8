package pathgen

import "github.com/hellenic/wildtrails/internal/wildtrails"

// Params tunes the corridor search. Every loop it drives is bounded by one
// of these values.
type Params struct {
	EndSearchAttempts   int                               `yaml:"end_search_attempts"`
	EndRadiusWiden      float64                           `yaml:"end_radius_widen"`
	LandmarkRadiusKm    float64                           `yaml:"landmark_radius_km"`
	LandmarkMinCount    int                               `yaml:"landmark_min_count"`
	MinClues            int                               `yaml:"min_clues"`
	MaxClues            int                               `yaml:"max_clues"`
	LocalSearchSteps    []float64                         `yaml:"local_search_steps"`
	LocalSearchAttempts int                               `yaml:"local_search_attempts"`
	HintRadiusKm        float64                           `yaml:"hint_radius_km"`
	HintMaxFeatures     int                               `yaml:"hint_max_features"`
	CorridorWidth       map[wildtrails.Difficulty]float64 `yaml:"corridor_width"`
}

func DefaultParams() Params {
	return Params{
		EndSearchAttempts:   20,
		EndRadiusWiden:      1.5,
		LandmarkRadiusKm:    0.5,
		LandmarkMinCount:    3,
		MinClues:            4,
		MaxClues:            7,
		LocalSearchSteps:    []float64{0.25, 0.5, 0.75, 1.0},
		LocalSearchAttempts: 10,
		HintRadiusKm:        1.0,
		HintMaxFeatures:     10,
		// Only the easy corridor is tuned so far; the other difficulties
		// borrow it until playtesting settles their widths.
		CorridorWidth: map[wildtrails.Difficulty]float64{
			wildtrails.DifficultyEasy: 0.10,
		},
	}
}

// WidthFraction returns the corridor half-width as a fraction of the
// start-to-end distance for d, falling back to the easy setting.
func (p Params) WidthFraction(d wildtrails.Difficulty) float64 {
	if w, ok := p.CorridorWidth[d]; ok {
		return w
	}
	if w, ok := p.CorridorWidth[wildtrails.DifficultyEasy]; ok {
		return w
	}
	return 0.10
}

// withDefaults fills zero fields from DefaultParams so a partial YAML file
// cannot disable a bound.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.EndSearchAttempts <= 0 {
		p.EndSearchAttempts = d.EndSearchAttempts
	}
	if p.EndRadiusWiden <= 0 {
		p.EndRadiusWiden = d.EndRadiusWiden
	}
	if p.LandmarkRadiusKm <= 0 {
		p.LandmarkRadiusKm = d.LandmarkRadiusKm
	}
	if p.LandmarkMinCount <= 0 {
		p.LandmarkMinCount = d.LandmarkMinCount
	}
	if p.MinClues <= 0 {
		p.MinClues = d.MinClues
	}
	if p.MaxClues < p.MinClues {
		p.MaxClues = max(d.MaxClues, p.MinClues)
	}
	if len(p.LocalSearchSteps) == 0 {
		p.LocalSearchSteps = d.LocalSearchSteps
	}
	if p.LocalSearchAttempts <= 0 {
		p.LocalSearchAttempts = d.LocalSearchAttempts
	}
	if p.HintRadiusKm <= 0 {
		p.HintRadiusKm = d.HintRadiusKm
	}
	if p.HintMaxFeatures <= 0 {
		p.HintMaxFeatures = d.HintMaxFeatures
	}
	if len(p.CorridorWidth) == 0 {
		p.CorridorWidth = d.CorridorWidth
	}
	return p
}
