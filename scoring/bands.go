package scoring

// Band is one slice of the target intensity distribution.
type Band struct {
	Label  string
	Weight float64
	Min    float64
	Max    float64
}

// DefaultBands is the heat map distribution. Weights are absolute probabilities
// checked as cumulative cutoffs; the last band also takes whatever probability the
// others leave over, so Red lands on 1 - 0.885.
var DefaultBands = []Band{
	{Label: "Blue", Weight: 0.10, Min: 0, Max: 0.4},
	{Label: "Green", Weight: 0.60, Min: 0.401, Max: 0.65},
	{Label: "Yellow", Weight: 0.125, Min: 0.651, Max: 0.8},
	{Label: "Orange", Weight: 0.06, Min: 0.801, Max: 0.95},
	{Label: "Red", Weight: 0.015, Min: 0.951, Max: 1.0},
}

const (
	LabelRed    = "Red"
	LabelOrange = "Orange"
	LabelYellow = "Yellow"
	LabelGreen  = "Green"
	LabelBlue   = "Blue"
)

// Labels lists the deal ratings from best to worst.
var Labels = []string{LabelRed, LabelOrange, LabelYellow, LabelGreen, LabelBlue}

// Label maps an intensity to its deal rating. Thresholds are exclusive lower bounds.
func Label(intensity float64) string {
	switch {
	case intensity > 0.95:
		return LabelRed
	case intensity > 0.8:
		return LabelOrange
	case intensity > 0.65:
		return LabelYellow
	case intensity > 0.4:
		return LabelGreen
	default:
		return LabelBlue
	}
}

// share returns each band's expected fraction of samples.
func share(bands []Band) map[string]float64 {
	out := make(map[string]float64, len(bands))
	var used float64
	for i, b := range bands {
		if i == len(bands)-1 {
			out[b.Label] = 1 - used
			break
		}
		out[b.Label] = b.Weight
		used += b.Weight
	}
	return out
}
