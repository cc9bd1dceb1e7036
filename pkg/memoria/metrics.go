package memoria

import "time"

// Terminal outcomes of one voice pipeline or summary request.
const (
	OutcomeSuccess        = "success"
	OutcomePartialFailure = "partial_failure"
	OutcomeFailure        = "failure"
	OutcomeNoSpeech       = "no_speech"
	OutcomeTooLong        = "too_long"
)

// PipelineMetrics records pipeline and summary outcomes.
type PipelineMetrics interface {
	// ObserveOutcome counts one voice pipeline reaching a terminal report.
	ObserveOutcome(outcome string)
	// ObserveStage records the latency of one pipeline stage.
	ObserveStage(stage string, d time.Duration)
	// ObserveSummary counts one summary request for period "month" or "year".
	ObserveSummary(period string, outcome string)
}
