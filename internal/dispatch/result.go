package dispatch

// Kind classifies a dispatch result.
type Kind int

const (
	KindSuccess Kind = iota
	KindError
	KindIrrelevant
)

// String returns the kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	case KindIrrelevant:
		return "irrelevant"
	default:
		return "unknown"
	}
}

// Stage names the step of the pipeline that produced a result.
type Stage string

const (
	StageOnboarding Stage = "onboarding"
	StageCommand    Stage = "command"
	StagePhrase     Stage = "phrase"
	StageAssistant  Stage = "assistant"
)

// Result is the outcome of handling one message. Content is always safe to
// show to the user.
type Result struct {
	Kind    Kind
	Content string
	Stage   Stage

	// extract is set when the message reached the assistant and was judged
	// relevant, making it a candidate for task extraction.
	extract bool
}

// Logged reports whether the result is written to the message log and the
// context cache. Onboarding prompts for unknown users are not.
func (r Result) Logged() bool {
	return r.Stage != StageOnboarding
}

func success(stage Stage, content string) Result {
	return Result{Kind: KindSuccess, Content: content, Stage: stage}
}

func failure(stage Stage, content string) Result {
	return Result{Kind: KindError, Content: content, Stage: stage}
}
