package classify

import (
	"fmt"
	"math"

	"curator/internal/imaging"
	"curator/internal/services"
)

// Template is a labeled reference frame loaded from the template directory.
type Template struct {
	Label  string
	Raster *imaging.Raster
}

// Match reports the winning template for a frame and how decisive the win was.
type Match struct {
	Label           string
	BestScore       float64
	SecondBestScore float64
	Margin          float64
}

// NoMatchError reports a frame that no template claimed decisively. The
// accompanying Match from Classify still carries the scores for diagnostics.
type NoMatchError struct {
	BestLabel string
	BestScore float64
	Margin    float64
	Reason    string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no template match: best %q scored %.3f with margin %.3f: %s", e.BestLabel, e.BestScore, e.Margin, e.Reason)
}

func (e *NoMatchError) Unwrap() error { return services.ErrClassification }

// Classifier scores frames against a fixed template set.
type Classifier struct {
	templates []Template
	policy    Policy
}

// New builds a classifier over the given templates. At least one template is
// required; classification with an empty set would send every case to review.
func New(templates []Template, policy Policy) (*Classifier, error) {
	if len(templates) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "classify", "new", "template set is empty", nil)
	}
	return &Classifier{templates: templates, policy: policy.normalized()}, nil
}

// Templates returns the labels the classifier can assign, in scoring order.
func (c *Classifier) Templates() []string {
	labels := make([]string, len(c.templates))
	for i, tpl := range c.templates {
		labels[i] = tpl.Label
	}
	return labels
}

// Classify scores the frame against every template at the template's native
// scale and returns the winner. On rejection the returned Match still holds
// the best scores so callers can report why the frame was turned away.
func (c *Classifier) Classify(frame *imaging.Raster) (Match, error) {
	bestScore := -1.0
	secondScore := -1.0
	bestLabel := ""
	for _, tpl := range c.templates {
		score := correlate(imaging.Resize(frame, tpl.Raster.Width, tpl.Raster.Height), tpl.Raster)
		if score > bestScore {
			secondScore = bestScore
			bestScore = score
			bestLabel = tpl.Label
			continue
		}
		if score > secondScore {
			secondScore = score
		}
	}
	if secondScore < 0 {
		secondScore = 0
	}
	match := Match{
		Label:           bestLabel,
		BestScore:       bestScore,
		SecondBestScore: secondScore,
		Margin:          bestScore - secondScore,
	}
	if bestScore < c.policy.Threshold {
		return match, &NoMatchError{
			BestLabel: bestLabel,
			BestScore: bestScore,
			Margin:    match.Margin,
			Reason:    "best score below threshold",
		}
	}
	if len(c.templates) > 1 && match.Margin < c.policy.MinMargin {
		return match, &NoMatchError{
			BestLabel: bestLabel,
			BestScore: bestScore,
			Margin:    match.Margin,
			Reason:    "runner-up too close to call",
		}
	}
	return match, nil
}

// correlate computes the zero-normalized cross correlation of two rasters of
// identical dimensions. Flat inputs have no structure to correlate and score
// zero against everything.
func correlate(a, b *imaging.Raster) float64 {
	n := len(a.Pix)
	if n == 0 || n != len(b.Pix) {
		return 0
	}
	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += float64(a.Pix[i])
		sumB += float64(b.Pix[i])
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := float64(a.Pix[i]) - meanA
		db := float64(b.Pix[i]) - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
