// Package ipc defines the wire protocol between notification producers and
// the coordinator daemon: one framed request per connection, one framed
// response, over a local unix socket.
package ipc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is bumped on incompatible frame changes.
// The daemon rejects frames carrying any other version.
const ProtocolVersion = 1

// Op is the request type carried in a frame.
type Op string

const (
	OpNotify   Op = "notify"
	OpPing     Op = "ping"
	OpShutdown Op = "shutdown"
)

// Priority orders dequeue. Higher values are served first.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
	PriorityInterrupt
)

func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	case PriorityInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

func (p Priority) Valid() bool {
	return p >= PriorityBackground && p <= PriorityInterrupt
}

// ParsePriority accepts canonical names plus the legacy aliases used by older
// hook scripts (normal/important/error).
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "background":
		return PriorityBackground, nil
	case "low":
		return PriorityLow, nil
	case "medium", "normal", "":
		return PriorityMedium, nil
	case "high", "important":
		return PriorityHigh, nil
	case "critical", "error":
		return PriorityCritical, nil
	case "interrupt":
		return PriorityInterrupt, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown priority %q", s)
	}
}

// Priorities travel as strings on the wire so frames stay readable in logs
// and hand-written test fixtures.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Request is a single framed request from a producer.
type Request struct {
	Version  int      `json:"version"`
	Op       Op       `json:"op"`
	Text     string   `json:"text,omitempty"`
	Priority Priority `json:"priority,omitempty"`
	Category string   `json:"category,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// Reject reasons. Stable strings: producers may switch on them.
const (
	ReasonBadVersion = "unsupported protocol version"
	ReasonBadOp      = "unknown op"
	ReasonEmptyText  = "empty text"
	ReasonDraining   = "daemon draining"
	ReasonOverflow   = "queue full"
)

// Validate checks the frame before it can touch the queue.
// Malformed frames are rejected here and never reach queueing.
func (r *Request) Validate() string {
	if r.Version != ProtocolVersion {
		return ReasonBadVersion
	}
	switch r.Op {
	case OpPing, OpShutdown:
		return ""
	case OpNotify:
		if strings.TrimSpace(r.Text) == "" {
			return ReasonEmptyText
		}
		if !r.Priority.Valid() {
			return fmt.Sprintf("invalid priority %d", int(r.Priority))
		}
		return ""
	default:
		return ReasonBadOp
	}
}

// NormalizedCategory returns the rate-limit key for the request.
func (r *Request) NormalizedCategory() string {
	c := strings.ToLower(strings.TrimSpace(r.Category))
	if c == "" {
		return "general"
	}
	return c
}

// Response statuses.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusStopping = "stopping"
)

// Response is the daemon's reply to a single request.
// Ping replies carry the daemon state in Status plus a Stats block.
type Response struct {
	Status   string `json:"status"`
	ID       string `json:"id,omitempty"`
	Sequence uint64 `json:"sequence,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Stats    *Stats `json:"stats,omitempty"`
}

// Stats is the observable daemon snapshot returned by ping.
type Stats struct {
	State          string                   `json:"state"`
	PID            int                      `json:"pid"`
	QueueDepth     int                      `json:"queue_depth"`
	ActiveCategory string                   `json:"active_category,omitempty"`
	UptimeSeconds  int64                    `json:"uptime_seconds"`
	Counters       map[string]uint64        `json:"counters,omitempty"`
	Categories     map[string]CategoryStats `json:"categories,omitempty"`
	Cache          *CacheStats              `json:"cache,omitempty"`
}

// CategoryStats summarizes one rate-limit category in a ping reply.
type CategoryStats struct {
	Window  string `json:"window"`
	Emitted uint64 `json:"emitted"`
	Dropped uint64 `json:"dropped"`
}

// CacheStats summarizes the payload cache in a ping reply.
type CacheStats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// State is the daemon lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
