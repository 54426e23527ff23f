// Package model defines the canonical turn record and the enrichment step
// that produces it from raw console or database rows.
package model

import (
	"encoding/json"
	"strconv"
)

// Alternative is one transcript candidate for a turn's audio.
type Alternative struct {
	Transcript string  `json:"transcript" yaml:"transcript"`
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	AMScore    float64 `json:"am_score,omitempty" yaml:"am_score,omitempty"`
	LMScore    float64 `json:"lm_score,omitempty" yaml:"lm_score,omitempty"`
}

// Slot is a prediction slot with its filled entity values.
type Slot struct {
	Name   string           `json:"name" yaml:"name"`
	Type   []string         `json:"type,omitempty" yaml:"type,omitempty"`
	Values []map[string]any `json:"values" yaml:"values"`
}

// Intent is one entry in a prediction's ranked intent list.
type Intent struct {
	Name  string  `json:"name" yaml:"name"`
	Score float64 `json:"score" yaml:"score"`
	Slots []Slot  `json:"slots" yaml:"slots"`
}

// Prediction is the model output attached to a turn.
type Prediction struct {
	Intents []Intent `json:"intents" yaml:"intents"`
}

// Turn is one conversational exchange within a call, flattened into a
// schema-stable record. Nested fields serialize as JSON cells in tabular
// output; the YAML dump uses the same canonical field names.
type Turn struct {
	CallID           string `json:"call_id" yaml:"call_id"`
	CallUUID         string `json:"call_uuid" yaml:"call_uuid"`
	ConversationID   int64  `json:"conversation_id" yaml:"conversation_id"`
	ConversationUUID string `json:"conversation_uuid" yaml:"conversation_uuid"`

	AudioURL        string `json:"audio_url" yaml:"audio_url"`
	CallURL         string `json:"call_url" yaml:"call_url"`
	Reftime         string `json:"reftime" yaml:"reftime"`
	ReftimeReadable string `json:"reftime_readable" yaml:"reftime_readable"`
	State           string `json:"state" yaml:"state"`

	Utterances  [][]Alternative `json:"utterances" yaml:"utterances"`
	Context     map[string]any  `json:"context" yaml:"context"`
	IntentsInfo []any           `json:"intents_info" yaml:"intents_info"`
	Prediction  *Prediction     `json:"prediction" yaml:"prediction"`

	Intent      string           `json:"intent" yaml:"intent"`
	IntentScore *float64         `json:"intent_score" yaml:"intent_score"`
	Slots       []Slot           `json:"slots" yaml:"slots"`
	Entities    []map[string]any `json:"entities" yaml:"entities"`

	Language      string `json:"language" yaml:"language"`
	ASRProvider   string `json:"asr_provider" yaml:"asr_provider"`
	VirtualNumber string `json:"virtual_number" yaml:"virtual_number"`
	FlowVersion   string `json:"flow_version" yaml:"flow_version"`

	ASRLatency   *float64 `json:"asr_latency" yaml:"asr_latency"`
	SLULatency   *float64 `json:"slu_latency" yaml:"slu_latency"`
	CallDuration *float64 `json:"call_duration" yaml:"call_duration"`

	// CallHistory is the ordered prefix of the owning call's turns up to
	// and including this one. Populated only on request; turns inside the
	// history carry no history of their own.
	CallHistory []Turn `json:"call_history,omitempty" yaml:"call_history,omitempty"`
}

// PrimaryUtterance returns the first alternative's transcript, used as the
// compact textual preview of the turn.
func (t Turn) PrimaryUtterance() string {
	if len(t.Utterances) == 0 || len(t.Utterances[0]) == 0 {
		return ""
	}
	return t.Utterances[0][0].Transcript
}

// Columns is the fixed column order shared by the CSV and SQLite sinks.
func Columns() []string {
	return []string{
		"call_id", "call_uuid", "conversation_id", "conversation_uuid",
		"audio_url", "call_url", "reftime", "reftime_readable", "state",
		"utterances", "context", "intents_info", "prediction",
		"intent", "intent_score", "slots", "entities",
		"language", "asr_provider", "virtual_number", "flow_version",
		"asr_latency", "slu_latency", "call_duration", "call_history",
	}
}

// Record flattens the turn into one cell per column. List- and map-valued
// fields become JSON cells; nil optionals become empty cells.
func (t Turn) Record() []string {
	return []string{
		t.CallID,
		t.CallUUID,
		strconv.FormatInt(t.ConversationID, 10),
		t.ConversationUUID,
		t.AudioURL,
		t.CallURL,
		t.Reftime,
		t.ReftimeReadable,
		t.State,
		jsonCell(t.Utterances),
		jsonCell(t.Context),
		jsonCell(t.IntentsInfo),
		jsonCell(t.Prediction),
		t.Intent,
		floatCell(t.IntentScore),
		jsonCell(t.Slots),
		jsonCell(t.Entities),
		t.Language,
		t.ASRProvider,
		t.VirtualNumber,
		t.FlowVersion,
		floatCell(t.ASRLatency),
		floatCell(t.SLULatency),
		floatCell(t.CallDuration),
		jsonCell(t.CallHistory),
	}
}

func jsonCell(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return ""
	}
	return string(b)
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
