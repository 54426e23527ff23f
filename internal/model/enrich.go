package model

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// WavExtension is appended to CDN recording ids when deriving call URLs.
const WavExtension = ".wav"

// ReadableReftimeLayout renders timestamps for human review.
const ReadableReftimeLayout = "02-Jan-2006 03:04 PM"

// URLSigner produces a time-limited signed URL for an object-store-backed
// audio URL. Implemented by mediastore; nil disables signing.
type URLSigner interface {
	SignURL(ctx context.Context, rawURL string) (string, error)
}

// Enricher turns RawTurn records into canonical Turns. All derivations for
// non-identifying fields degrade to zero values on failure; identifying
// fields fail hard.
type Enricher struct {
	// CDNBase is the recordings CDN base path used when a record carries a
	// recording id instead of a full call URL.
	CDNBase string

	// Location is the timezone for human-readable reftimes.
	Location *time.Location

	// Signer, when set, replaces audio URLs with presigned equivalents.
	Signer URLSigner

	// Logger records non-fatal degradations. Nil falls back to the default.
	Logger *slog.Logger
}

func (e *Enricher) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Enrich converts one raw record into a canonical Turn.
func (e *Enricher) Enrich(ctx context.Context, raw RawTurn) (Turn, error) {
	if raw.CallID == "" && raw.CallUUID == "" {
		return Turn{}, &RecordIntegrityError{Field: "call_id"}
	}
	if raw.ConversationID == 0 && raw.ConversationUUID == "" {
		return Turn{}, &RecordIntegrityError{Field: "conversation_id"}
	}

	prediction, err := DecodePrediction(raw.Prediction)
	if err != nil {
		return Turn{}, err
	}
	utterances, err := NormalizeUtterances(raw.Utterances)
	if err != nil {
		return Turn{}, err
	}
	contextBlob, err := decodeObject("context", raw.Context)
	if err != nil {
		return Turn{}, err
	}
	intentsInfo, err := decodeList("intents_info", raw.IntentsInfo)
	if err != nil {
		return Turn{}, err
	}

	intentName, intentScore, slots := PredictionIntent(prediction)

	callID := raw.CallID
	if callID == "" {
		callID = raw.CallUUID
	}

	callURL := raw.CallURL
	if callURL == "" {
		callURL = JoinURL(e.CDNBase, raw.CallURLID, WavExtension)
	}
	audioURL := JoinURL(raw.AudioBasePath, raw.AudioPath, "")
	if e.Signer != nil && audioURL != "" {
		signed, err := e.Signer.SignURL(ctx, audioURL)
		if err != nil {
			// Keep the unsigned URL; the record is still usable.
			e.log().Warn("audio URL presign failed, keeping unsigned URL",
				"call_uuid", raw.CallUUID, "error", err)
		} else {
			audioURL = signed
		}
	}

	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}

	return Turn{
		CallID:           callID,
		CallUUID:         raw.CallUUID,
		ConversationID:   raw.ConversationID,
		ConversationUUID: raw.ConversationUUID,
		AudioURL:         audioURL,
		CallURL:          callURL,
		Reftime:          raw.Reftime,
		ReftimeReadable:  ReadableReftime(raw.Reftime, loc),
		State:            raw.State,
		Utterances:       utterances,
		Context:          contextBlob,
		IntentsInfo:      intentsInfo,
		Prediction:       prediction,
		Intent:           intentName,
		IntentScore:      intentScore,
		Slots:            slots,
		Entities:         SlotEntities(slots),
		Language:         raw.Language,
		ASRProvider:      raw.ASRProvider,
		VirtualNumber:    raw.VirtualNumber,
		FlowVersion:      raw.FlowVersion,
		ASRLatency:       parseFloat(raw.ASRLatency),
		SLULatency:       parseFloat(raw.SLULatency),
		CallDuration:     parseFloat(raw.CallDuration),
	}, nil
}

// PredictionIntent extracts the winning intent from a prediction. The first
// entry in source order wins; there is no score-based re-ranking here.
func PredictionIntent(p *Prediction) (string, *float64, []Slot) {
	if p == nil || len(p.Intents) == 0 {
		return "", nil, nil
	}
	top := p.Intents[0]
	score := top.Score
	slots := top.Slots
	if slots == nil {
		slots = []Slot{}
	}
	return top.Name, &score, slots
}

// SlotEntities flattens the value lists of all slots into one entity list.
func SlotEntities(slots []Slot) []map[string]any {
	if slots == nil {
		return nil
	}
	entities := []map[string]any{}
	for _, slot := range slots {
		entities = append(entities, slot.Values...)
	}
	return entities
}

// DecodePrediction parses a prediction blob. Empty input yields nil;
// malformed input is a hard failure.
func DecodePrediction(raw string) (*Prediction, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var p Prediction
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, &MalformedFieldError{Field: "prediction", Err: err}
	}
	return &p, nil
}

// NormalizeUtterances parses a transcript blob into the canonical
// list-of-alternative-lists shape. A flat list of alternatives is wrapped
// into a single-turn list; a list of lists passes through. Mixed or
// otherwise ambiguous shapes normalize to nil rather than failing, since
// they reflect known upstream inconsistency, not corruption.
func NormalizeUtterances(raw string) ([][]Alternative, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var outer []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &outer); err != nil {
		return nil, &MalformedFieldError{Field: "utterances", Err: err}
	}
	if len(outer) == 0 {
		return nil, nil
	}

	allLists, allDicts := true, true
	for _, element := range outer {
		trimmed := strings.TrimSpace(string(element))
		if !strings.HasPrefix(trimmed, "[") {
			allLists = false
		}
		if !strings.HasPrefix(trimmed, "{") {
			allDicts = false
		}
	}

	switch {
	case allLists:
		var nested [][]Alternative
		if err := json.Unmarshal([]byte(raw), &nested); err != nil {
			return nil, &MalformedFieldError{Field: "utterances", Err: err}
		}
		return nested, nil
	case allDicts:
		var flat []Alternative
		if err := json.Unmarshal([]byte(raw), &flat); err != nil {
			return nil, &MalformedFieldError{Field: "utterances", Err: err}
		}
		return [][]Alternative{flat}, nil
	default:
		return nil, nil
	}
}

// JoinURL joins a base URL and a percent-encoded relative path, decoding the
// path and trimming redundant slashes. Empty paths yield empty URLs.
func JoinURL(base, path, extension string) string {
	if base == "" || path == "" {
		return ""
	}
	decoded, err := url.PathUnescape(path)
	if err != nil {
		decoded = path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(decoded, "/") + extension
}

// ReadableReftime converts a stored timestamp to the target timezone and
// formats it for human review. Zoneless timestamps are assumed UTC.
// Unparseable input degrades to an empty string.
func ReadableReftime(reftime string, loc *time.Location) string {
	t, ok := parseReftime(reftime)
	if !ok {
		return ""
	}
	return t.In(loc).Format(ReadableReftimeLayout)
}

func parseReftime(reftime string) (time.Time, bool) {
	if reftime == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, reftime); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, reftime, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func decodeObject(field, raw string) (map[string]any, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, &MalformedFieldError{Field: field, Err: err}
	}
	return m, nil
}

func decodeList(field, raw string) ([]any, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var l []any
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		// Some legacy rows store a single object here.
		var m map[string]any
		if err2 := json.Unmarshal([]byte(raw), &m); err2 == nil {
			return []any{m}, nil
		}
		return nil, &MalformedFieldError{Field: field, Err: err}
	}
	return l, nil
}

func parseFloat(raw string) *float64 {
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &f
}

func marshalOrEmpty(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
