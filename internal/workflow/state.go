package workflow

import "shopbot/internal/domain"

// State is one node of the per-turn workflow graph.
type State int

const (
	StateClassify State = iota
	StateGenerateIdeas
	StateRetrieve
	StateOffTopic
	StateNotifyDecision
	StateTerminal
)

var stateNames = [...]string{
	StateClassify:       "classify",
	StateGenerateIdeas:  "generate_ideas",
	StateRetrieve:       "retrieve",
	StateOffTopic:       "off_topic",
	StateNotifyDecision: "notify_decision",
	StateTerminal:       "terminal",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Next is the transition function. It is total: every state, including
// ones outside the enum, leads somewhere, and unknown intent types route to
// off_topic.
func Next(s State, in domain.Intent) State {
	switch s {
	case StateClassify:
		switch in.Type {
		case domain.IntentContextual:
			return StateGenerateIdeas
		case domain.IntentDirectSearch:
			return StateRetrieve
		default:
			return StateOffTopic
		}
	case StateGenerateIdeas:
		return StateRetrieve
	case StateRetrieve:
		return StateNotifyDecision
	default:
		return StateTerminal
	}
}
