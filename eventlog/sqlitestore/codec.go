package sqlitestore

import (
	"encoding/json"
	"fmt"

	"github.com/seedrun/seed/eventlog"
)

// decodePayload unmarshals a stored payload column into the concrete
// eventlog.DomainEvent type named by typ. See jsonl's codec.go for the same
// pattern against the other on-disk encoding.
func decodePayload(typ eventlog.EventType, raw []byte) (eventlog.DomainEvent, error) {
	switch typ {
	case eventlog.TaskCreated:
		var p eventlog.TaskCreatedPayload
		return p, json.Unmarshal(raw, &p)
	case eventlog.TaskStarted:
		var p eventlog.TaskStartedPayload
		return p, json.Unmarshal(raw, &p)
	case eventlog.TaskCompleted:
		var p eventlog.TaskCompletedPayload
		return p, json.Unmarshal(raw, &p)
	case eventlog.TaskFailed:
		var p eventlog.TaskFailedPayload
		return p, json.Unmarshal(raw, &p)
	case eventlog.TaskCanceled:
		var p eventlog.TaskCanceledPayload
		return p, json.Unmarshal(raw, &p)
	case eventlog.TaskPaused:
		var p eventlog.TaskPausedPayload
		return p, json.Unmarshal(raw, &p)
	case eventlog.TaskResumed:
		var p eventlog.TaskResumedPayload
		return p, json.Unmarshal(raw, &p)
	case eventlog.TaskInstructionAdded:
		var p eventlog.TaskInstructionAddedPayload
		return p, json.Unmarshal(raw, &p)
	case eventlog.UserInteractionRequested:
		var p eventlog.UserInteractionRequestedPayload
		return p, json.Unmarshal(raw, &p)
	case eventlog.UserInteractionResponded:
		var p eventlog.UserInteractionRespondedPayload
		return p, json.Unmarshal(raw, &p)
	default:
		return nil, fmt.Errorf("sqlitestore: unknown event type %q", typ)
	}
}
