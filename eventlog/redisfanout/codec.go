package redisfanout

import (
	"encoding/json"
	"fmt"

	"github.com/seedrun/seed/eventlog"
)

// decodePayload mirrors jsonl's and sqlitestore's codec.go: the event type
// set is closed, so this switch covers every variant by construction.
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
		return nil, fmt.Errorf("redisfanout: unknown event type %q", typ)
	}
}
