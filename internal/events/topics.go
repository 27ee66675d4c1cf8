package events

const (
	// TopicExtensionConnected fires after a new extension socket becomes the
	// current upstream. Payload: events.ExtensionState.
	TopicExtensionConnected = "extension.connected"

	// TopicExtensionDisconnected fires after the current extension socket is
	// gone and its world has been torn down. Payload: events.ExtensionState.
	TopicExtensionDisconnected = "extension.disconnected"
)

// ExtensionState is the payload for extension lifecycle topics.
type ExtensionState struct {
	Epoch   uint64
	Targets int
}
