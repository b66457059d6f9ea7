package orchestrator

// Stage is one phase of an iteration.
type Stage string

// Stages in pipeline order.
const (
	StageAnalysis     Stage = "analysis"
	StageProduction   Stage = "production"
	StageCodeGate     Stage = "code_review"
	StageFidelityGate Stage = "fidelity_review"
	StageFeedback     Stage = "feedback"
)

// StageState tracks one iteration. It is only mutated between turns.
type StageState struct {
	Stage            Stage   `json:"stage"`
	ForcedPasses     []Stage `json:"forced_passes,omitempty"`
	CompletedBy      string  `json:"completed_by,omitempty"`
	Similarity       float64 `json:"similarity,omitempty"`
	Iteration        int     `json:"iteration"`
	AnalysisTurns    int     `json:"analysis_turns"`
	ReviewRounds     int     `json:"review_rounds"`
	ValidationRounds int     `json:"validation_rounds"`
	Turns            int     `json:"turns"`
	AnalysisDone     bool    `json:"analysis_done"`
	CodeAccepted     bool    `json:"code_accepted"`
	FidelityAccepted bool    `json:"fidelity_accepted"`
	CapReached       bool    `json:"cap_reached"`
}

func (s *StageState) forcedPass(stage Stage) {
	s.ForcedPasses = append(s.ForcedPasses, stage)
}
