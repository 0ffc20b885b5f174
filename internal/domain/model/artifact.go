package model

type PipelineStage string

const (
	StageIdea     PipelineStage = "idea"
	StageScript   PipelineStage = "script"
	StageAsset    PipelineStage = "asset"
	StageAssembly PipelineStage = "assembly"
)

// Stages is the fixed execution order of the generation pipeline.
var Stages = []PipelineStage{StageIdea, StageScript, StageAsset, StageAssembly}

// StagesAfter returns the stages still to run once last has completed.
// An empty last means nothing ran yet.
func StagesAfter(last PipelineStage) []PipelineStage {
	if last == "" {
		return Stages
	}
	for i, s := range Stages {
		if s == last {
			return Stages[i+1:]
		}
	}
	return Stages
}

// Usage is what a backend reports for one generation.
type Usage struct {
	Model         string `json:"model"`
	PromptTokens  int    `json:"prompt_tokens"`
	OutputTokens  int    `json:"output_tokens"`
	ResourceUnits int    `json:"resource_units"`
}

func (u Usage) Add(o Usage) Usage {
	if u.Model == "" {
		u.Model = o.Model
	}
	u.PromptTokens += o.PromptTokens
	u.OutputTokens += o.OutputTokens
	u.ResourceUnits += o.ResourceUnits
	return u
}

// Artifact is the finished output of a work item.
type Artifact struct {
	ItemID      string      `json:"item_id"`
	Kind        ContentKind `json:"kind"`
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	ContentType string      `json:"content_type"`
	Data        []byte      `json:"data,omitempty"`
	Ref         string      `json:"-"`
	Usage       Usage       `json:"usage"`
}
