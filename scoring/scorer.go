// Package scoring assigns each property a deal intensity, a color rating and a short
// explanation.
//
// The persisted intensity is drawn from a fixed distribution so the heat map stays
// balanced. A heuristic score is still computed from price, size, walkability and age;
// it drives the explanation text and is logged, but it does not set the intensity.
package scoring

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"flipr_ingest/models"
)

// FallbackIntensity is returned when scoring fails.
const FallbackIntensity = 0.5

type Result struct {
	Intensity float64
	Label     string
	Reasoning string
	Heuristic float64
}

type Scorer struct {
	mu    sync.Mutex
	rng   *rand.Rand
	bands []Band
	now   func() time.Time
}

type Option func(*Scorer)

// WithRand sets the random source. Scorer serializes access to it.
func WithRand(r *rand.Rand) Option {
	return func(s *Scorer) { s.rng = r }
}

func WithBands(bands []Band) Option {
	return func(s *Scorer) { s.bands = bands }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

func New(opts ...Option) *Scorer {
	s := &Scorer{
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		bands: DefaultBands,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score never panics. On any failure the fallback intensity is returned.
func (s *Scorer) Score(p *models.Property) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Intensity: FallbackIntensity,
				Label:     Label(FallbackIntensity),
				Reasoning: fmt.Sprintf("Automated evaluation failed (%v); a neutral score was assigned.", r),
				Heuristic: FallbackIntensity,
			}
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	in := inputsFrom(p)
	h := s.heuristic(in)
	intensity := s.sample()

	return Result{
		Intensity: intensity,
		Label:     Label(intensity),
		Reasoning: reasoning(intensity, in, h),
		Heuristic: h.score,
	}
}

type inputs struct {
	price     float64
	bedrooms  int
	bathrooms float64
	sqft      float64
	yearBuilt int
	walkScore float64
}

func inputsFrom(p *models.Property) inputs {
	var in inputs
	if p.Price != nil {
		in.price = *p.Price
	}
	if p.Bedrooms != nil {
		in.bedrooms = *p.Bedrooms
	}
	if p.Bathrooms != nil {
		in.bathrooms = *p.Bathrooms
	}
	if p.SquareFeet != nil {
		in.sqft = *p.SquareFeet
	}
	if p.YearBuilt != nil {
		in.yearBuilt = *p.YearBuilt
	}
	if p.WalkScore != nil {
		in.walkScore = p.WalkScore.Score
	}
	return in
}

type heuristic struct {
	score           float64
	pricePerBedroom float64
	pricePerSqft    float64
}

func (s *Scorer) heuristic(in inputs) heuristic {
	h := heuristic{score: 0.5}

	if in.price > 0 && (in.bedrooms > 0 || in.bathrooms > 0) {
		h.pricePerBedroom = in.price / float64(max(in.bedrooms, 1))
		switch {
		case h.pricePerBedroom < 150000:
			h.score += 0.2
		case h.pricePerBedroom < 250000:
			h.score += 0.1
		case h.pricePerBedroom > 500000:
			h.score -= 0.1
		}

		if in.bedrooms > 0 && in.bathrooms > 0 {
			ratio := in.bathrooms / float64(in.bedrooms)
			if ratio >= 0.5 && ratio <= 1.5 {
				h.score += 0.1
			}
		}
	}

	if in.price > 0 && in.sqft > 0 {
		h.pricePerSqft = in.price / in.sqft
		switch {
		case h.pricePerSqft < 200:
			h.score += 0.15
		case h.pricePerSqft < 350:
			h.score += 0.05
		case h.pricePerSqft > 500:
			h.score -= 0.1
		}
	}

	if in.walkScore > 0 {
		switch {
		case in.walkScore > 80:
			h.score += 0.1
		case in.walkScore > 60:
			h.score += 0.05
		case in.walkScore < 30:
			h.score -= 0.05
		}
	}

	if in.yearBuilt > 0 {
		age := s.now().Year() - in.yearBuilt
		switch {
		case age < 5:
			h.score += 0.1
		case age > 50:
			h.score -= 0.05
		}
	}

	h.score += (s.rng.Float64() - 0.5) * 0.1
	h.score = clamp(h.score)
	return h
}

// sample draws one uniform selector against the cumulative band cutoffs, then a
// uniform value inside the chosen band.
func (s *Scorer) sample() float64 {
	r := s.rng.Float64()
	band := s.bands[len(s.bands)-1]
	var cutoff float64
	for _, b := range s.bands[:len(s.bands)-1] {
		cutoff += b.Weight
		if r < cutoff {
			band = b
			break
		}
	}
	return clamp(band.Min + s.rng.Float64()*(band.Max-band.Min))
}

func reasoning(intensity float64, in inputs, h heuristic) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This appears to be a %s deal", dealQuality(intensity))

	var basis []string
	if in.price > 0 {
		basis = append(basis, fmt.Sprintf("the price (%s)", formatMoney(in.price, false)))
	}
	if in.bedrooms > 0 {
		basis = append(basis, fmt.Sprintf("bedrooms (%d)", in.bedrooms))
	}
	if in.bathrooms > 0 {
		basis = append(basis, fmt.Sprintf("bathrooms (%s)", strconv.FormatFloat(in.bathrooms, 'f', -1, 64)))
	}
	if len(basis) > 0 {
		b.WriteString(" based on analysis of ")
		b.WriteString(joinClauses(basis))
	}
	b.WriteString(".")

	if h.pricePerBedroom > 0 {
		fmt.Fprintf(&b, " The price per bedroom is %s, which is %s.",
			formatMoney(h.pricePerBedroom, true), pricePerBedroomVerdict(h.pricePerBedroom))
	}
	if h.pricePerSqft > 0 {
		fmt.Fprintf(&b, " The price per square foot is $%.2f, which is %s.",
			h.pricePerSqft, pricePerSqftVerdict(h.pricePerSqft))
	}
	if in.walkScore > 0 {
		fmt.Fprintf(&b, " The property has a walk score of %s, which is %s.",
			strconv.FormatFloat(in.walkScore, 'f', -1, 64), walkScoreVerdict(in.walkScore))
	}
	return b.String()
}

func dealQuality(intensity float64) string {
	switch {
	case intensity > 0.8:
		return "excellent"
	case intensity > 0.6:
		return "good"
	case intensity > 0.4:
		return "average"
	default:
		return "below average"
	}
}

func pricePerBedroomVerdict(v float64) string {
	switch {
	case v < 150000:
		return "very competitive"
	case v < 250000:
		return "reasonable"
	default:
		return "somewhat high"
	}
}

func pricePerSqftVerdict(v float64) string {
	switch {
	case v < 200:
		return "excellent"
	case v < 350:
		return "good"
	case v < 500:
		return "average"
	default:
		return "high"
	}
}

func walkScoreVerdict(v float64) string {
	switch {
	case v > 80:
		return "excellent"
	case v > 60:
		return "good"
	case v > 40:
		return "average"
	default:
		return "poor"
	}
}

func joinClauses(items []string) string {
	switch len(items) {
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}

// formatMoney renders v with thousands separators. Whole amounts drop the cents
// unless cents is set.
func formatMoney(v float64, cents bool) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if !cents && v == math.Trunc(v) {
		s = strconv.FormatFloat(v, 'f', 0, 64)
	}
	intPart, frac, _ := strings.Cut(s, ".")
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var out strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out.WriteByte(',')
		}
		out.WriteRune(c)
	}
	res := "$" + out.String()
	if frac != "" {
		res += "." + frac
	}
	if neg {
		res = "-" + res
	}
	return res
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
