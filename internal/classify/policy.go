package classify

import "curator/internal/config"

// Policy centralizes the acceptance thresholds for template matching.
type Policy struct {
	// Threshold is the minimum best correlation score for a match.
	Threshold float64
	// MinMargin is the minimum separation between the best score and the
	// runner-up before the winner is trusted.
	MinMargin float64
}

// DefaultPolicy returns thresholds tuned for clean fluoroscopic exports.
func DefaultPolicy() Policy {
	return Policy{
		Threshold: 0.9,
		MinMargin: 0.05,
	}
}

// PolicyFromConfig maps the classify configuration block onto a Policy.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		Threshold: cfg.Classify.Threshold,
		MinMargin: cfg.Classify.MinMargin,
	}.normalized()
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Threshold <= 0 || p.Threshold > 1 {
		p.Threshold = d.Threshold
	}
	if p.MinMargin < 0 || p.MinMargin >= 1 {
		p.MinMargin = d.MinMargin
	}
	return p
}
