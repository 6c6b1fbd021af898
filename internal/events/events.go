package events

// Kind names one of the three event shapes carried by the bus.
type Kind string

const (
	KindStep     Kind = "step"
	KindCitation Kind = "citation"
	KindMessage  Kind = "message"
)

// Chat roles used in message events.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Step reports one thought/action/observation cycle of an agent or tool.
type Step struct {
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	Input       string `json:"input"`
	Observation string `json:"observation"`
}

// Citation records a source consulted during research.
type Citation struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Message is one chat line addressed to the user interface.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StepHandler receives step events.
type StepHandler func(Step)

// CitationHandler receives citation events.
type CitationHandler func(Citation)

// MessageHandler receives message events.
type MessageHandler func(Message)

// Publisher is the emitting half of the bus. Pipeline stages and tools
// depend on it rather than on *Bus.
type Publisher interface {
	NotifyStep(thought, action, input, observation string)
	NotifyCitation(title, url, content string)
	NotifyMessage(role, content string)
}

// Subscriber is the consuming half of the bus.
type Subscriber interface {
	SubscribeStep(StepHandler) Subscription
	SubscribeCitation(CitationHandler) Subscription
	SubscribeMessage(MessageHandler) Subscription
	Unsubscribe(Subscription)
}

// Subscription identifies a registered handler so it can be detached.
type Subscription struct {
	kind Kind
	id   uint64
}

// Kind reports which event kind the subscription listens to.
func (s Subscription) Kind() Kind { return s.kind }

// Valid reports whether the handle came from a Subscribe call.
func (s Subscription) Valid() bool { return s.id != 0 }
