package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func TestReadableReftime(t *testing.T) {
	loc := kolkata(t)

	assert.Equal(t, "01-Dec-2022 04:07 PM", ReadableReftime("2022-12-01T10:37:43.039748+00:00", loc))
	assert.Equal(t, "07-Jan-2023 03:08 PM", ReadableReftime("2023-01-07T15:08:04.861674+05:30", loc))
}

func TestReadableReftimeZonelessAssumesUTC(t *testing.T) {
	loc := kolkata(t)

	// Midnight UTC is 05:30 in Kolkata.
	assert.Equal(t, "10-Jan-2022 05:30 AM", ReadableReftime("2022-01-10", loc))
	assert.Equal(t, "10-Jan-2022 05:30 AM", ReadableReftime("2022-01-10T00:00:00", loc))
}

func TestReadableReftimeUnparseable(t *testing.T) {
	assert.Equal(t, "", ReadableReftime("10012022", time.UTC))
	assert.Equal(t, "", ReadableReftime("", time.UTC))
}

func TestNormalizeUtterancesShapes(t *testing.T) {
	flat := `[{"transcript": "hello", "confidence": 0.9}]`
	nested := `[[{"transcript": "hello", "confidence": 0.9}]]`

	fromFlat, err := NormalizeUtterances(flat)
	require.NoError(t, err)
	fromNested, err := NormalizeUtterances(nested)
	require.NoError(t, err)

	// Both shapes normalize to the same canonical form.
	assert.Equal(t, fromNested, fromFlat)
	require.Len(t, fromFlat, 1)
	require.Len(t, fromFlat[0], 1)
	assert.Equal(t, "hello", fromFlat[0][0].Transcript)
}

func TestNormalizeUtterancesAmbiguousShape(t *testing.T) {
	mixed := `[{"transcript": "a"}, [{"transcript": "b"}]]`
	got, err := NormalizeUtterances(mixed)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNormalizeUtterancesEmpty(t *testing.T) {
	for _, input := range []string{"", "null", "[]"} {
		got, err := NormalizeUtterances(input)
		require.NoError(t, err, "input %q", input)
		assert.Nil(t, got, "input %q", input)
	}
}

func TestNormalizeUtterancesMalformed(t *testing.T) {
	_, err := NormalizeUtterances(`{"not": "a list"`)
	var malformed *MalformedFieldError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "utterances", malformed.Field)
}

func TestPredictionIntentFirstWins(t *testing.T) {
	p := &Prediction{Intents: []Intent{
		{Name: "confirm", Score: 0.42, Slots: []Slot{{Name: "date", Values: []map[string]any{{"value": "monday"}}}}},
		{Name: "cancel", Score: 0.99},
	}}

	name, score, slots := PredictionIntent(p)
	assert.Equal(t, "confirm", name)
	require.NotNil(t, score)
	assert.InDelta(t, 0.42, *score, 1e-9)
	require.Len(t, slots, 1)

	entities := SlotEntities(slots)
	require.Len(t, entities, 1)
	assert.Equal(t, "monday", entities[0]["value"])
}

func TestPredictionIntentEmpty(t *testing.T) {
	name, score, slots := PredictionIntent(nil)
	assert.Empty(t, name)
	assert.Nil(t, score)
	assert.Nil(t, slots)

	name, score, slots = PredictionIntent(&Prediction{})
	assert.Empty(t, name)
	assert.Nil(t, score)
	assert.Nil(t, slots)
}

func TestSlotEntitiesFlattens(t *testing.T) {
	slots := []Slot{
		{Name: "a", Values: []map[string]any{{"value": 1.0}, {"value": 2.0}}},
		{Name: "b", Values: []map[string]any{{"value": 3.0}}},
		{Name: "empty"},
	}
	entities := SlotEntities(slots)
	require.Len(t, entities, 3)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/2022/01/rec.wav",
		JoinURL("https://cdn.example.com/", "/2022/01/rec", ".wav"))
	assert.Equal(t, "https://cdn.example.com/a b/rec.flac",
		JoinURL("https://cdn.example.com", "a%20b/rec.flac", ""))
	assert.Equal(t, "", JoinURL("https://cdn.example.com", "", ".wav"))
	assert.Equal(t, "", JoinURL("", "path", ""))
}

func validRaw() RawTurn {
	return RawTurn{
		CallID:           "41",
		CallUUID:         "call-uuid-1",
		ConversationID:   7,
		ConversationUUID: "conv-uuid-1",
		AudioBasePath:    "https://media.example.com",
		AudioPath:        "turns%2F7.flac",
		Reftime:          "2022-12-01T10:37:43.039748+00:00",
		State:            "COF",
		Prediction:       `{"intents": [{"name": "confirm", "score": 0.9, "slots": []}]}`,
		Utterances:       `[{"transcript": "yes", "confidence": 0.8}]`,
		Context:          `{"flow": "collections"}`,
		IntentsInfo:      `[{"name": "confirm"}]`,
		Language:         "hi",
		ASRProvider:      "google",
		CallDuration:     "32.5",
	}
}

func TestEnrich(t *testing.T) {
	e := &Enricher{CDNBase: "https://cdn.example.com", Location: kolkata(t)}

	turn, err := e.Enrich(context.Background(), validRaw())
	require.NoError(t, err)

	assert.Equal(t, "41", turn.CallID)
	assert.Equal(t, "confirm", turn.Intent)
	require.NotNil(t, turn.IntentScore)
	assert.InDelta(t, 0.9, *turn.IntentScore, 1e-9)
	assert.Equal(t, "yes", turn.PrimaryUtterance())
	assert.Equal(t, "https://media.example.com/turns/7.flac", turn.AudioURL)
	assert.Equal(t, "01-Dec-2022 04:07 PM", turn.ReftimeReadable)
	require.NotNil(t, turn.CallDuration)
	assert.InDelta(t, 32.5, *turn.CallDuration, 1e-9)
	assert.Equal(t, "collections", turn.Context["flow"])
}

func TestEnrichIdempotent(t *testing.T) {
	e := &Enricher{Location: time.UTC}

	first, err := e.Enrich(context.Background(), validRaw())
	require.NoError(t, err)

	// Feed the canonical output's own serialization back through.
	prediction, err := json.Marshal(first.Prediction)
	require.NoError(t, err)
	utterances, err := json.Marshal(first.Utterances)
	require.NoError(t, err)

	again := validRaw()
	again.Prediction = string(prediction)
	again.Utterances = string(utterances)

	second, err := e.Enrich(context.Background(), again)
	require.NoError(t, err)

	assert.Equal(t, first.Intent, second.Intent)
	assert.Equal(t, first.IntentScore, second.IntentScore)
	assert.Equal(t, first.PrimaryUtterance(), second.PrimaryUtterance())
}

func TestEnrichCallURLFromCDN(t *testing.T) {
	e := &Enricher{CDNBase: "https://cdn.example.com", Location: time.UTC}

	raw := validRaw()
	raw.CallURLID = "2022%2F12%2Frecording"
	turn, err := e.Enrich(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/2022/12/recording.wav", turn.CallURL)

	// A direct URL wins over the derived one.
	raw.CallURL = "https://cdn.example.com/direct.wav"
	turn, err = e.Enrich(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/direct.wav", turn.CallURL)
}

func TestEnrichMissingIdentity(t *testing.T) {
	e := &Enricher{}

	raw := validRaw()
	raw.CallID = ""
	raw.CallUUID = ""
	_, err := e.Enrich(context.Background(), raw)
	var integrity *RecordIntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "call_id", integrity.Field)

	raw = validRaw()
	raw.ConversationID = 0
	raw.ConversationUUID = ""
	_, err = e.Enrich(context.Background(), raw)
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "conversation_id", integrity.Field)
}

func TestEnrichMalformedPrediction(t *testing.T) {
	e := &Enricher{}
	raw := validRaw()
	raw.Prediction = `{"intents": [`

	_, err := e.Enrich(context.Background(), raw)
	var malformed *MalformedFieldError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "prediction", malformed.Field)
}

func TestEnrichAbsentFieldsDegrade(t *testing.T) {
	e := &Enricher{}
	raw := RawTurn{
		CallID:           "1",
		CallUUID:         "u",
		ConversationID:   1,
		ConversationUUID: "c",
	}
	turn, err := e.Enrich(context.Background(), raw)
	require.NoError(t, err)
	assert.Nil(t, turn.Prediction)
	assert.Nil(t, turn.Utterances)
	assert.Empty(t, turn.Intent)
	assert.Nil(t, turn.IntentScore)
	assert.Empty(t, turn.AudioURL)
	assert.Empty(t, turn.ReftimeReadable)
}

type fakeSigner struct{ calls int }

func (f *fakeSigner) SignURL(_ context.Context, rawURL string) (string, error) {
	f.calls++
	return rawURL + "?signed=1", nil
}

type failingSigner struct{}

func (failingSigner) SignURL(context.Context, string) (string, error) {
	return "", errors.New("presign: credentials expired")
}

func TestEnrichKeepsUnsignedURLAndLogsOnSignFailure(t *testing.T) {
	var buf bytes.Buffer
	e := &Enricher{
		Location: time.UTC,
		Signer:   failingSigner{},
		Logger:   slog.New(slog.NewTextHandler(&buf, nil)),
	}

	turn, err := e.Enrich(context.Background(), validRaw())
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/turns/7.flac", turn.AudioURL)
	assert.Contains(t, buf.String(), "presign failed")
	assert.Contains(t, buf.String(), "call-uuid-1")
}

func TestEnrichSignsAudioURL(t *testing.T) {
	signer := &fakeSigner{}
	e := &Enricher{Location: time.UTC, Signer: signer}

	turn, err := e.Enrich(context.Background(), validRaw())
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/turns/7.flac?signed=1", turn.AudioURL)
	assert.Equal(t, 1, signer.calls)
}

func TestRecordMatchesColumns(t *testing.T) {
	e := &Enricher{Location: time.UTC}
	turn, err := e.Enrich(context.Background(), validRaw())
	require.NoError(t, err)

	record := turn.Record()
	require.Len(t, record, len(Columns()))

	// Nested cells are JSON.
	columns := Columns()
	byName := map[string]string{}
	for i, col := range columns {
		byName[col] = record[i]
	}
	var decoded [][]Alternative
	require.NoError(t, json.Unmarshal([]byte(byName["utterances"]), &decoded))
	assert.Equal(t, "yes", decoded[0][0].Transcript)
	assert.Empty(t, byName["call_history"])
}

func TestRawFromAPISkipsMissingUUIDs(t *testing.T) {
	call := map[string]any{"uuid": "call-1", "id": 12.0}

	_, err := RawFromAPI(call, map[string]any{"prediction": "{}"})
	var integrity *RecordIntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "conversation_uuid", integrity.Field)

	_, err = RawFromAPI(map[string]any{}, map[string]any{"uuid": "conv-1"})
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "call_uuid", integrity.Field)
}

func TestRawFromAPIMerge(t *testing.T) {
	call := map[string]any{"uuid": "call-1", "id": 12.0, "virtual_number": "+911234", "duration": 18.0}
	conv := map[string]any{
		"uuid":       "conv-1",
		"id":         3.0,
		"state":      "COF",
		"created_at": "2022-01-10",
		"prediction": map[string]any{"intents": []any{}},
	}

	raw, err := RawFromAPI(call, conv)
	require.NoError(t, err)
	assert.Equal(t, "12", raw.CallID)
	assert.Equal(t, "call-1", raw.CallUUID)
	assert.Equal(t, int64(3), raw.ConversationID)
	assert.Equal(t, "conv-1", raw.ConversationUUID)
	assert.Equal(t, "+911234", raw.VirtualNumber)
	assert.Equal(t, "18", raw.CallDuration)
	assert.JSONEq(t, `{"intents": []}`, raw.Prediction)
	assert.Equal(t, "COF", raw.State)
	assert.Equal(t, "2022-01-10", raw.Reftime)
}
