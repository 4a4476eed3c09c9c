package matrix

import "github.com/dmarsh/reentry-engine/internal/domain"

var allGenerations = []domain.Generation{domain.GenO, domain.GenR1, domain.GenR2}

var allSignalClasses = []domain.SignalClass{
	domain.SignalEcoHigh, domain.SignalEcoMed,
	domain.SignalAnticipation1Hr, domain.SignalAnticipation8Hr,
	domain.SignalEquityOpenAsia, domain.SignalEquityOpenEurope, domain.SignalEquityOpenUSA,
	domain.SignalAllIndicators,
}

var allDurationBuckets = []domain.DurationBucket{
	domain.DurationFlash, domain.DurationQuick, domain.DurationLong, domain.DurationExtended,
}

var allProximities = []domain.Proximity{
	domain.ProximityImmediate, domain.ProximityShort, domain.ProximityLong, domain.ProximityExtended,
}

var allOutcomes = []domain.Outcome{
	domain.OutcomeWin, domain.OutcomeLoss, domain.OutcomeBE,
	domain.OutcomeSkip, domain.OutcomeReject, domain.OutcomeCancel,
}

// AllLegalCombinations enumerates every CombinationId the classifier can
// ever produce — the ~1k-row dense table §9 calls for instead of an
// open-ended reentry tree. Used by the Matrix Store's completeness
// check: every id in this set must appear in a loaded matrix file.
func AllLegalCombinations() []domain.CombinationId {
	var out []domain.CombinationId
	for _, gen := range allGenerations {
		for _, sig := range allSignalClasses {
			for _, prox := range allProximities {
				for _, outc := range allOutcomes {
					if sig.IsEco() {
						for _, dur := range allDurationBuckets {
							id, err := domain.NewCombinationId(gen, sig, dur, prox, outc)
							if err == nil {
								out = append(out, id)
							}
						}
						continue
					}
					id, err := domain.NewCombinationId(gen, sig, "", prox, outc)
					if err == nil {
						out = append(out, id)
					}
				}
			}
		}
	}
	return out
}
