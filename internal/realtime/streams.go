package realtime

// Streams a websocket client may subscribe to.
const (
	// StreamNotifications carries in-app notifications and their lifecycle events.
	StreamNotifications = "notifications"
	// StreamScheduling carries batch summaries emitted by the scheduler.
	StreamScheduling = "scheduling"
)

// KnownStreams lists every stream the hub accepts subscriptions for.
func KnownStreams() []string {
	return []string{StreamNotifications, StreamScheduling}
}
