package jsonl

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/seedrun/seed/eventlog"
)

// decodePayload unmarshals rec.Payload into the concrete eventlog.DomainEvent
// type named by rec.Type. The event type set is closed, so this switch is
// exhaustive by construction: adding a new event type to eventlog without a
// case here is a compile-time reminder the next time this file is touched.
func decodePayload(rec record) (eventlog.DomainEvent, error) {
	switch rec.Type {
	case eventlog.TaskCreated:
		var p eventlog.TaskCreatedPayload
		return p, unmarshalInto(rec.Payload, &p)
	case eventlog.TaskStarted:
		var p eventlog.TaskStartedPayload
		return p, unmarshalInto(rec.Payload, &p)
	case eventlog.TaskCompleted:
		var p eventlog.TaskCompletedPayload
		return p, unmarshalInto(rec.Payload, &p)
	case eventlog.TaskFailed:
		var p eventlog.TaskFailedPayload
		return p, unmarshalInto(rec.Payload, &p)
	case eventlog.TaskCanceled:
		var p eventlog.TaskCanceledPayload
		return p, unmarshalInto(rec.Payload, &p)
	case eventlog.TaskPaused:
		var p eventlog.TaskPausedPayload
		return p, unmarshalInto(rec.Payload, &p)
	case eventlog.TaskResumed:
		var p eventlog.TaskResumedPayload
		return p, unmarshalInto(rec.Payload, &p)
	case eventlog.TaskInstructionAdded:
		var p eventlog.TaskInstructionAddedPayload
		return p, unmarshalInto(rec.Payload, &p)
	case eventlog.UserInteractionRequested:
		var p eventlog.UserInteractionRequestedPayload
		return p, unmarshalInto(rec.Payload, &p)
	case eventlog.UserInteractionResponded:
		var p eventlog.UserInteractionRespondedPayload
		return p, unmarshalInto(rec.Payload, &p)
	default:
		return nil, fmt.Errorf("jsonl: unknown event type %q", rec.Type)
	}
}

func unmarshalInto[T any](raw json.RawMessage, dst *T) error {
	return json.Unmarshal(raw, dst)
}

func formatUint(n uint64) string {
	return strconv.FormatUint(n, 10)
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
