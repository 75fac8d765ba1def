package protocol

// Method enumerates the closed set of routable protocol methods. Keeping the
// surface as a typed enum gives the dispatcher one statically-typed handler
// per case instead of a string-keyed table with a fallthrough.
type Method int

const (
	// MethodUnknown is the zero value; never routable.
	MethodUnknown Method = iota
	MethodInitialize
	MethodToolsList
	MethodToolsCall
	MethodResourcesList
	MethodResourcesRead
	MethodPromptsList
	MethodPromptsGet
)

// Wire names for the method surface.
const (
	wireInitialize    = "initialize"
	wireToolsList     = "tools/list"
	wireToolsCall     = "tools/call"
	wireResourcesList = "resources/list"
	wireResourcesRead = "resources/read"
	wirePromptsList   = "prompts/list"
	wirePromptsGet    = "prompts/get"
)

// Canonical push method names for server-to-client notifications.
const (
	NotifyToolsListChanged     = "notifications/tools/list_changed"
	NotifyResourcesListChanged = "notifications/resources/list_changed"
	NotifyResourcesUpdated     = "notifications/resources/updated"
	NotifyPromptsListChanged   = "notifications/prompts/list_changed"
)

// ParseMethod maps a wire method name onto the closed enum.
// The boolean reports whether the name is part of the routable surface.
func ParseMethod(name string) (Method, bool) {
	switch name {
	case wireInitialize:
		return MethodInitialize, true
	case wireToolsList:
		return MethodToolsList, true
	case wireToolsCall:
		return MethodToolsCall, true
	case wireResourcesList:
		return MethodResourcesList, true
	case wireResourcesRead:
		return MethodResourcesRead, true
	case wirePromptsList:
		return MethodPromptsList, true
	case wirePromptsGet:
		return MethodPromptsGet, true
	default:
		return MethodUnknown, false
	}
}

// String returns the wire name for the method, or "unknown".
func (m Method) String() string {
	switch m {
	case MethodInitialize:
		return wireInitialize
	case MethodToolsList:
		return wireToolsList
	case MethodToolsCall:
		return wireToolsCall
	case MethodResourcesList:
		return wireResourcesList
	case MethodResourcesRead:
		return wireResourcesRead
	case MethodPromptsList:
		return wirePromptsList
	case MethodPromptsGet:
		return wirePromptsGet
	default:
		return "unknown"
	}
}
