package model

import (
	"fmt"
	"strconv"
)

// RawTurn is one source record before enrichment: a strict, typed view of a
// database row or of a console call item merged with one of its
// conversations. JSON-encoded sub-fields stay as strings until Enrich
// decodes them.
type RawTurn struct {
	CallID           string `db:"call_id"`
	CallUUID         string `db:"call_uuid"`
	ConversationID   int64  `db:"conversation_id"`
	ConversationUUID string `db:"conversation_uuid"`

	CallURL       string `db:"call_url"`
	CallURLID     string `db:"call_url_id"`
	AudioBasePath string `db:"turn_audio_base_path"`
	AudioPath     string `db:"turn_audio_path"`

	Reftime string `db:"reftime"`
	State   string `db:"state"`

	Prediction  string `db:"prediction"`
	Utterances  string `db:"utterances"`
	Context     string `db:"context"`
	IntentsInfo string `db:"intents_info"`

	Language      string `db:"language"`
	ASRProvider   string `db:"asr_provider"`
	VirtualNumber string `db:"virtual_number"`
	FlowVersion   string `db:"flow_version"`

	ASRLatency   string `db:"asr_latency"`
	SLULatency   string `db:"slu_latency"`
	CallDuration string `db:"call_duration"`
}

// RawFromAPI merges one call item from the console listing with one of the
// call's conversations into a RawTurn. Conversation-level keys win over
// call-level keys. A conversation without a uuid yields a
// RecordIntegrityError; the raw "uuid" and "conversations" keys never
// survive the merge.
func RawFromAPI(call, conversation map[string]any) (RawTurn, error) {
	callUUID := str(call["uuid"])
	if callUUID == "" {
		return RawTurn{}, &RecordIntegrityError{Field: "call_uuid"}
	}
	convUUID := str(conversation["uuid"])
	if convUUID == "" {
		return RawTurn{}, &RecordIntegrityError{Field: "conversation_uuid"}
	}

	raw := RawTurn{
		CallID:           str(call["id"]),
		CallUUID:         callUUID,
		ConversationID:   integer(conversation["id"]),
		ConversationUUID: convUUID,
		CallURL:          str(call["call_url"]),
		CallURLID:        str(call["audio_recording_id"]),
		AudioBasePath:    str(conversation["audio_base_path"]),
		AudioPath:        str(conversation["audio_path"]),
		Reftime:          str(conversation["created_at"]),
		State:            str(conversation["state"]),
		Prediction:       rawJSON(conversation["prediction"]),
		Utterances:       rawJSON(conversation["utterances"]),
		Context:          rawJSON(conversation["metadata"]),
		IntentsInfo:      rawJSON(conversation["debug_metadata"]),
		Language:         str(firstNonNil(conversation["language"], call["lang"])),
		ASRProvider:      str(conversation["asr_provider"]),
		VirtualNumber:    str(call["virtual_number"]),
		FlowVersion:      str(call["flow_version"]),
		ASRLatency:       numeric(conversation["asr_latency"]),
		SLULatency:       numeric(conversation["slu_latency"]),
		CallDuration:     numeric(call["duration"]),
	}
	if raw.CallID == "" {
		raw.CallID = callUUID
	}
	return raw, nil
}

func firstNonNil(vs ...any) any {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		// JSON numbers decode as float64; ids are integral in practice.
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func integer(v any) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case int64:
		return x
	case int:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	default:
		return 0
	}
}

func numeric(v any) string {
	if v == nil {
		return ""
	}
	return str(v)
}

// rawJSON keeps a sub-field as its JSON text so Enrich can decode it
// defensively. String payloads pass through as-is (some sources store the
// blob pre-encoded); structured payloads are re-encoded.
func rawJSON(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return marshalOrEmpty(x)
	}
}
