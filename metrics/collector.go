// Package metrics provides per-session counters.
//
// The Collector accumulates counters during a single session. It is a leaf
// package with no internal dependencies. Event drop counts are absorbed from
// the runner's emitter at session end rather than recorded live.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted  int64 `json:"sessions_started"`
	SessionsFinished int64 `json:"sessions_finished"`
	SessionsFailed   int64 `json:"sessions_failed"`
	SessionsStopped  int64 `json:"sessions_stopped"`

	// Streaming
	CommandsSent     int64 `json:"commands_sent"`
	CommandsAcked    int64 `json:"commands_acked"`
	CommandsRejected int64 `json:"commands_rejected"`
	CommandRetries   int64 `json:"command_retries"`
	AckTimeouts      int64 `json:"ack_timeouts"`
	StatusPolls      int64 `json:"status_polls"`
	NotReadyPolls    int64 `json:"not_ready_polls"`
	FilesCompleted   int64 `json:"files_completed"`

	// Link
	Reconnects        int64 `json:"reconnects"`
	ReconnectFailures int64 `json:"reconnect_failures"`

	// Checkpoint
	CheckpointWrites        int64 `json:"checkpoint_writes"`
	CheckpointWriteFailures int64 `json:"checkpoint_write_failures"`

	// Events (absorbed from the emitter at session end)
	EventsEmitted int64            `json:"events_emitted"`
	EventsDropped int64            `json:"events_dropped"`
	DroppedByType map[string]int64 `json:"dropped_by_type,omitempty"`

	// Dimensions (informational, set at construction)
	Port              string `json:"port"`
	CheckpointBackend string `json:"checkpoint_backend"`
	SessionID         string `json:"session_id"`
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsStarted  int64
	sessionsFinished int64
	sessionsFailed   int64
	sessionsStopped  int64

	commandsSent     int64
	commandsAcked    int64
	commandsRejected int64
	commandRetries   int64
	ackTimeouts      int64
	statusPolls      int64
	notReadyPolls    int64
	filesCompleted   int64

	reconnects        int64
	reconnectFailures int64

	checkpointWrites        int64
	checkpointWriteFailures int64

	eventsEmitted int64
	eventsDropped int64
	droppedByType map[string]int64

	port              string
	checkpointBackend string
	sessionID         string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(port, checkpointBackend, sessionID string) *Collector {
	return &Collector{
		droppedByType:     make(map[string]int64),
		port:              port,
		checkpointBackend: checkpointBackend,
		sessionID:         sessionID,
	}
}

func (c *Collector) add(counter *int64, n int64) {
	c.mu.Lock()
	*counter += n
	c.mu.Unlock()
}

// --- Session lifecycle ---

// IncSessionStarted records a session start.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.add(&c.sessionsStarted, 1)
}

// IncSessionFinished records a session that ran the playlist to exhaustion.
func (c *Collector) IncSessionFinished() {
	if c == nil {
		return
	}
	c.add(&c.sessionsFinished, 1)
}

// IncSessionFailed records a session that ended with a terminal error.
func (c *Collector) IncSessionFailed() {
	if c == nil {
		return
	}
	c.add(&c.sessionsFailed, 1)
}

// IncSessionStopped records a session ended by a stop request.
func (c *Collector) IncSessionStopped() {
	if c == nil {
		return
	}
	c.add(&c.sessionsStopped, 1)
}

// --- Streaming ---

// IncCommandSent records a command written to the wire.
func (c *Collector) IncCommandSent() {
	if c == nil {
		return
	}
	c.add(&c.commandsSent, 1)
}

// IncCommandAcked records an "ok" acknowledgment.
func (c *Collector) IncCommandAcked() {
	if c == nil {
		return
	}
	c.add(&c.commandsAcked, 1)
}

// IncCommandRejected records an "error:N" reply.
func (c *Collector) IncCommandRejected() {
	if c == nil {
		return
	}
	c.add(&c.commandsRejected, 1)
}

// IncCommandRetry records a resend of the same command.
func (c *Collector) IncCommandRetry() {
	if c == nil {
		return
	}
	c.add(&c.commandRetries, 1)
}

// IncAckTimeout records an acknowledgment timeout.
func (c *Collector) IncAckTimeout() {
	if c == nil {
		return
	}
	c.add(&c.ackTimeouts, 1)
}

// IncStatusPoll records a buffer status probe. ready is the probe's verdict.
func (c *Collector) IncStatusPoll(ready bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.statusPolls++
	if !ready {
		c.notReadyPolls++
	}
	c.mu.Unlock()
}

// IncFileCompleted records a file streamed to the end.
func (c *Collector) IncFileCompleted() {
	if c == nil {
		return
	}
	c.add(&c.filesCompleted, 1)
}

// --- Link ---

// IncReconnect records a successful reconnect sequence.
func (c *Collector) IncReconnect() {
	if c == nil {
		return
	}
	c.add(&c.reconnects, 1)
}

// IncReconnectFailure records an exhausted reconnect sequence.
func (c *Collector) IncReconnectFailure() {
	if c == nil {
		return
	}
	c.add(&c.reconnectFailures, 1)
}

// --- Checkpoint ---

// IncCheckpointWrite records a successful checkpoint save.
func (c *Collector) IncCheckpointWrite() {
	if c == nil {
		return
	}
	c.add(&c.checkpointWrites, 1)
}

// IncCheckpointWriteFailure records a failed checkpoint save.
func (c *Collector) IncCheckpointWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.checkpointWriteFailures, 1)
}

// --- Events (absorbed from the emitter) ---

// AbsorbEventStats copies event counters from the emitter into the collector.
// The droppedByType map keys are string-typed event types to keep this package
// free of dependencies on the types package.
func (c *Collector) AbsorbEventStats(emitted, dropped int64, droppedByType map[string]int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsEmitted = emitted
	c.eventsDropped = dropped
	c.droppedByType = make(map[string]int64, len(droppedByType))
	for k, v := range droppedByType {
		c.droppedByType[k] = v
	}
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := make(map[string]int64, len(c.droppedByType))
	for k, v := range c.droppedByType {
		dropped[k] = v
	}

	return Snapshot{
		SessionsStarted:  c.sessionsStarted,
		SessionsFinished: c.sessionsFinished,
		SessionsFailed:   c.sessionsFailed,
		SessionsStopped:  c.sessionsStopped,

		CommandsSent:     c.commandsSent,
		CommandsAcked:    c.commandsAcked,
		CommandsRejected: c.commandsRejected,
		CommandRetries:   c.commandRetries,
		AckTimeouts:      c.ackTimeouts,
		StatusPolls:      c.statusPolls,
		NotReadyPolls:    c.notReadyPolls,
		FilesCompleted:   c.filesCompleted,

		Reconnects:        c.reconnects,
		ReconnectFailures: c.reconnectFailures,

		CheckpointWrites:        c.checkpointWrites,
		CheckpointWriteFailures: c.checkpointWriteFailures,

		EventsEmitted: c.eventsEmitted,
		EventsDropped: c.eventsDropped,
		DroppedByType: dropped,

		Port:              c.port,
		CheckpointBackend: c.checkpointBackend,
		SessionID:         c.sessionID,
	}
}
