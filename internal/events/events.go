package events

import "github.com/asaskevich/EventBus"

// GlobalBus is the shared event bus for the entire application
var GlobalBus EventBus.Bus

func init() {
	GlobalBus = EventBus.New()
}

// Event types for application-wide coordination
const (
	// Shutdown events
	EventShutdownRequested = "app:shutdown:requested"
	EventShutdownComplete  = "app:shutdown:complete"

	// Operation lifecycle, published by the transfer orchestrator.
	// Payload is the operation id plus target name.
	EventOperationStarted   = "operation:started"
	EventOperationFinished  = "operation:finished"
	EventOperationCancelled = "operation:cancelled"
	EventFileTransferred    = "operation:file:done"

	// Target session events. Waiting fires when an operation blocks on a
	// busy target so the UI can show who is holding things up.
	EventSessionWaiting  = "session:waiting"
	EventSessionAcquired = "session:acquired"
	EventSessionReleased = "session:released"

	// Watcher events
	EventWatcherStarted   = "watcher:started"
	EventWatcherStopped   = "watcher:stopped"
	EventWatcherPaused    = "watcher:paused"
	EventWatcherResumed   = "watcher:resumed"
	EventWatcherTriggered = "watcher:triggered"

	// Cleanup events
	EventCleanupRequested = "app:cleanup:requested"
)
