package assemble

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skit-ai/callsample/internal/console"
	"github.com/skit-ai/callsample/internal/model"
)

// fakeGateway serves a listing where every call sits on its own page and has
// two conversations, one of which is missing its uuid.
type fakeGateway struct {
	totalCalls   int
	pageRequests atomic.Int32
}

func (f *fakeGateway) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("page") == "" {
			// Metadata probe.
			_ = json.NewEncoder(w).Encode(map[string]any{
				"page":        1,
				"total_pages": f.totalCalls,
				"total_items": f.totalCalls,
			})
			return
		}
		f.pageRequests.Add(1)
		page := query.Get("page")
		usable := map[string]any{
			"uuid":       "conv-" + page,
			"id":         1,
			"state":      "COF",
			"created_at": "2022-12-01T10:37:43.039748+00:00",
			"prediction": map[string]any{"intents": []any{map[string]any{"name": "confirm", "score": 0.9}}},
			"utterances": []any{map[string]any{"transcript": "haan", "confidence": 0.8}},
		}
		broken := map[string]any{"id": 2, "state": "COF"} // no uuid
		item := map[string]any{
			"uuid":          "call-" + page,
			"id":            page,
			"conversations": []any{usable, broken},
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{item}})
	})
}

func newFakeAssembler(t *testing.T, gateway *fakeGateway) (*Assembler, *fakeGateway) {
	t.Helper()
	server := httptest.NewServer(gateway.handler())
	t.Cleanup(server.Close)

	client, err := console.NewClient(console.Config{
		BaseURL: server.URL,
		Token:   "test-token",
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	})
	require.NoError(t, err)
	return New(client, nil, &model.Enricher{}, slog.Default()), gateway
}

func TestSampleInMemoryEndToEnd(t *testing.T) {
	assembler, gateway := newFakeAssembler(t, &fakeGateway{totalCalls: 5})

	result, err := assembler.Sample(context.Background(), SampleRequest{
		Filter:   console.Filter{LangCode: "hi"},
		Quantity: 10, // exceeds population, so every page is read
		Mode:     InMemory,
	})
	require.NoError(t, err)

	// One usable turn per call; each page's uuid-less conversation is
	// dropped upstream and reported in the skip count.
	require.Len(t, result.Rows, 5)
	assert.Equal(t, 5, result.Skipped)
	assert.Equal(t, int32(5), gateway.pageRequests.Load())

	calls := map[string]bool{}
	for _, turn := range result.Rows {
		calls[turn.CallUUID] = true
		assert.Equal(t, "confirm", turn.Intent)
		assert.Equal(t, "haan", turn.PrimaryUtterance())
	}
	assert.Len(t, calls, 5)
}

func TestSampleSubsetOfPages(t *testing.T) {
	assembler, gateway := newFakeAssembler(t, &fakeGateway{totalCalls: 50})

	result, err := assembler.Sample(context.Background(), SampleRequest{
		Filter:   console.Filter{LangCode: "hi"},
		Quantity: 7,
		Mode:     InMemory,
	})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 7)
	assert.Equal(t, 7, result.Skipped)
	assert.Equal(t, int32(7), gateway.pageRequests.Load())
}

func TestSampleEmptyResultBeforeAnyPageFetch(t *testing.T) {
	assembler, gateway := newFakeAssembler(t, &fakeGateway{totalCalls: 0})

	_, err := assembler.Sample(context.Background(), SampleRequest{
		Filter:   console.Filter{LangCode: "hi"},
		Quantity: 10,
		Mode:     InMemory,
	})
	assert.ErrorIs(t, err, ErrEmptyResult)
	assert.Zero(t, gateway.pageRequests.Load(), "no page may be fetched for an empty match")
}

func TestSampleToFiles(t *testing.T) {
	assembler, _ := newFakeAssembler(t, &fakeGateway{totalCalls: 3})
	dir := t.TempDir()

	result, err := assembler.Sample(context.Background(), SampleRequest{
		Filter:   console.Filter{LangCode: "hi"},
		Quantity: 3,
		Mode:     Files,
		OutDir:   dir,
	})
	require.NoError(t, err)
	assert.Equal(t, dir, result.Path)
	assert.Empty(t, result.Rows)
	assert.Equal(t, 3, result.Skipped)

	for page := 1; page <= 3; page++ {
		path := filepath.Join(dir, "page-"+strconv.Itoa(page)+".csv")
		data, err := os.ReadFile(path)
		require.NoError(t, err, "missing %s", path)
		assert.Contains(t, string(data), "conv-"+strconv.Itoa(page))
	}
}

func TestSampleToFilesCreatesTempDir(t *testing.T) {
	assembler, _ := newFakeAssembler(t, &fakeGateway{totalCalls: 1})

	result, err := assembler.Sample(context.Background(), SampleRequest{
		Filter:   console.Filter{LangCode: "hi"},
		Quantity: 1,
		Mode:     Files,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Path)
	t.Cleanup(func() { _ = os.RemoveAll(result.Path) })

	entries, err := os.ReadDir(result.Path)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSampleInvalidArguments(t *testing.T) {
	assembler, _ := newFakeAssembler(t, &fakeGateway{totalCalls: 1})

	_, err := assembler.Sample(context.Background(), SampleRequest{Quantity: 0})
	assert.ErrorIs(t, err, ErrInvalidArguments)

	noConsole := New(nil, nil, nil, nil)
	_, err = noConsole.Sample(context.Background(), SampleRequest{Quantity: 1})
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = noConsole.SampleStore(context.Background(), StoreRequest{Quantity: 1}, nil)
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = noConsole.Select(context.Background(), SelectRequest{}, nil)
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestRecoverable(t *testing.T) {
	assert.True(t, recoverable(&model.MalformedFieldError{Field: "prediction"}))
	assert.True(t, recoverable(&model.RecordIntegrityError{Field: "call_uuid"}))
	assert.False(t, recoverable(os.ErrNotExist))
}
