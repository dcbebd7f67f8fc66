package qa

// Stage is a state of the ask pipeline.
type Stage int

const (
	StageValidatingInput Stage = iota
	StageResolving
	StageCheckingCache
	StageInvoking
	StageValidating
	StagePersisting
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageValidatingInput: "validating_input",
	StageResolving:       "resolving",
	StageCheckingCache:   "checking_cache",
	StageInvoking:        "invoking",
	StageValidating:      "validating",
	StagePersisting:      "persisting",
	StageDone:            "done",
	StageFailed:          "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}
