package naming

import (
	"fmt"
	"strings"

	"curator/internal/registry"
	"curator/internal/services"
)

// Kind is an experiment kind from the closed archive-layout set. Researcher
// analyses are parameterized ("<RESEARCHER>_Analysis") so two researchers
// running the same analysis on one subject keep distinct experiments.
type Kind string

const (
	KindSource       Kind = "Source_Data"
	KindSegmentation Kind = "Semantic_Segmentations"
	KindDerived      Kind = "TBD_Derived_Data_Type"
)

const analysisSuffix = "_Analysis"

// AnalysisKind builds the experiment kind for one researcher's analysis.
func AnalysisKind(researcher string) Kind {
	return Kind(registry.NormalizeName(researcher) + analysisSuffix)
}

// ParseKind validates a kind string against the closed set.
func ParseKind(s string) (Kind, error) {
	trimmed := strings.TrimSpace(s)
	switch {
	case strings.EqualFold(trimmed, string(KindSource)):
		return KindSource, nil
	case strings.EqualFold(trimmed, string(KindSegmentation)):
		return KindSegmentation, nil
	case strings.EqualFold(trimmed, string(KindDerived)):
		return KindDerived, nil
	}
	if strings.HasSuffix(strings.ToLower(trimmed), strings.ToLower(analysisSuffix)) {
		if rest := trimmed[:len(trimmed)-len(analysisSuffix)]; registry.NormalizeName(rest) != "" {
			return AnalysisKind(rest), nil
		}
	}
	return "", services.Wrap(services.ErrValidation, "naming", "parse kind",
		fmt.Sprintf("%q is not a recognized experiment kind", s), nil)
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }
