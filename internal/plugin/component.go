package plugin

// Kind enumerates the component kinds a plugin may register (spec §3
// Component Record).
type Kind string

const (
	KindAction              Kind = "ACTION"
	KindCommand             Kind = "COMMAND"
	KindPlusCommand         Kind = "PLUS_COMMAND"
	KindTool                Kind = "TOOL"
	KindEventHandler        Kind = "EVENT_HANDLER"
	KindInterestCalculator  Kind = "INTEREST_CALCULATOR"
	KindPrompt              Kind = "PROMPT"
)

// ComponentInfo is the Component Record of spec §3: name, kind, owning
// plugin, declared config schema, enabled flag. Metadata carries
// kind-specific data (an ACTION's trigger type and prompt template, a
// COMMAND's verb and argument schema, an EVENT_HANDLER's subscribed event
// names and weight).
type ComponentInfo struct {
	Kind     Kind
	Name     string
	Plugin   string
	Enabled  bool
	Metadata map[string]any
}

// Component pairs a ComponentInfo with its implementation value. The
// implementation's concrete type is kind-specific (ActionLike, CommandLike,
// etc. — spec §9's "small trait/interface per kind"); callers type-assert
// based on Info.Kind.
type Component struct {
	Info Info
	Impl any
}

// Info is an alias retained for readability at call sites
// (plugin.Component{Info: plugin.ComponentInfo{...}}).
type Info = ComponentInfo

// ActionLike is implemented by TOOL/ACTION component implementations that
// can be invoked with a parameter map.
type ActionLike interface {
	Invoke(params map[string]any) (map[string]any, error)
}

// CommandLike is implemented by COMMAND/PLUS_COMMAND component
// implementations.
type CommandLike interface {
	Run(args []string) (string, error)
}

// EventHandlerLike is implemented by EVENT_HANDLER component
// implementations. It has no Weight or Intercept method; those belong to
// an EventSubscription (spec §3), not to this interface.
type EventHandlerLike interface {
	Handle(params map[string]any) (ok bool, continueProcess bool, message string)
}

// InterestCalculatorLike scores an envelope/context for proactive
// engagement plugins.
type InterestCalculatorLike interface {
	Score(params map[string]any) (float64, error)
}
