package queue

import (
	"strings"
)

// EntryID is the repository-assigned identifier of a queue entry.
// Assigned monotonically starting at 1; zero is never a valid id.
type EntryID uint64

// IsZero reports whether the id is unassigned.
func (id EntryID) IsZero() bool { return id == 0 }

// WorkspaceName identifies the isolated workspace an entry targets.
// Validated once at construction: 1-255 bytes, no path separators, no NUL.
type WorkspaceName string

// ParseWorkspaceName validates and wraps a raw workspace name.
func ParseWorkspaceName(s string) (WorkspaceName, error) {
	const op = "parse workspace"
	if s == "" {
		return "", errorf(KindValidation, op, "workspace name is empty")
	}
	if len(s) > 255 {
		return "", errorf(KindValidation, op, "workspace name %q exceeds 255 bytes", s)
	}
	if i := strings.IndexAny(s, "/\\\x00"); i >= 0 {
		return "", errorf(KindValidation, op, "workspace name %q contains forbidden character at %d", s, i)
	}
	return WorkspaceName(s), nil
}

func (w WorkspaceName) String() string { return string(w) }

// AgentID identifies a worker process. 1-128 bytes drawn from
// [A-Za-z0-9._:-].
type AgentID string

// ParseAgentID validates and wraps a raw agent identifier.
func ParseAgentID(s string) (AgentID, error) {
	const op = "parse agent"
	if s == "" {
		return "", errorf(KindValidation, op, "agent id is empty")
	}
	if len(s) > 128 {
		return "", errorf(KindValidation, op, "agent id %q exceeds 128 bytes", s)
	}
	for i := 0; i < len(s); i++ {
		if !isAgentByte(s[i]) {
			return "", errorf(KindValidation, op, "agent id %q contains forbidden character at %d", s, i)
		}
	}
	return AgentID(s), nil
}

func isAgentByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == ':', c == '-':
		return true
	}
	return false
}

func (a AgentID) String() string { return string(a) }

// IsZero reports whether no agent identity is set.
func (a AgentID) IsZero() bool { return a == "" }

// TaskID references a tracker task associated with an entry, formatted
// "bd-" followed by lowercase hex. The zero value means no task.
type TaskID string

// ParseTaskID validates and wraps a raw task identifier.
func ParseTaskID(s string) (TaskID, error) {
	const op = "parse task"
	rest, ok := strings.CutPrefix(s, "bd-")
	if !ok || rest == "" {
		return "", errorf(KindValidation, op, "task id %q must be bd-<hex>", s)
	}
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", errorf(KindValidation, op, "task id %q must be bd-<hex>", s)
		}
	}
	return TaskID(s), nil
}

func (t TaskID) String() string { return string(t) }

// IsZero reports whether no task is associated.
func (t TaskID) IsZero() bool { return t == "" }

// Priority orders claim-next selection. Lower values are claimed first.
type Priority int32

// Standard priority values.
const (
	PriorityHigh    Priority = 1
	PriorityDefault Priority = 5
	PriorityLow     Priority = 10
)

// ParsePriority validates a raw priority. Negative values are rejected.
func ParsePriority(v int32) (Priority, error) {
	if v < 0 {
		return 0, errorf(KindValidation, "parse priority", "priority %d is negative", v)
	}
	return Priority(v), nil
}

// DedupeKey prevents two live entries for the same logical work.
// The zero value means no deduplication.
type DedupeKey string

// ParseDedupeKey validates and wraps a raw dedupe key.
func ParseDedupeKey(s string) (DedupeKey, error) {
	const op = "parse dedupe key"
	if s == "" {
		return "", errorf(KindValidation, op, "dedupe key is empty")
	}
	if len(s) > 512 {
		return "", errorf(KindValidation, op, "dedupe key exceeds 512 bytes")
	}
	if strings.IndexByte(s, 0) >= 0 {
		return "", errorf(KindValidation, op, "dedupe key contains NUL")
	}
	return DedupeKey(s), nil
}

func (d DedupeKey) String() string { return string(d) }

// IsZero reports whether deduplication is disabled for an entry.
func (d DedupeKey) IsZero() bool { return d == "" }
