package store

import (
	"fmt"
	"os"
	"strings"
)

// Queries holds the operator-supplied SQL templates. Templates use pgx named
// arguments (@start, @call_ids, ...) so operators can evolve schemas without
// code changes.
type Queries struct {
	// RandomCallIDs selects candidate call ids matching call-level filters,
	// bounded by @limit.
	RandomCallIDs string

	// Turns selects turn rows for @call_ids plus turn-level filters.
	Turns string

	// CallIDsFromUUIDs resolves @uuids to internal call ids within @id's
	// org scope. Optional; Select by uuid fails without it.
	CallIDsFromUUIDs string
}

// LoadQueries reads the SQL templates from the configured file paths.
// uuidPath may be empty.
func LoadQueries(idPath, turnsPath, uuidPath string) (Queries, error) {
	var q Queries
	var err error
	if q.RandomCallIDs, err = readQuery(idPath); err != nil {
		return Queries{}, err
	}
	if q.Turns, err = readQuery(turnsPath); err != nil {
		return Queries{}, err
	}
	if uuidPath != "" {
		if q.CallIDsFromUUIDs, err = readQuery(uuidPath); err != nil {
			return Queries{}, err
		}
	}
	return q, nil
}

func readQuery(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("store: query file path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("store: read query %s: %w", path, err)
	}
	query := strings.TrimSpace(string(b))
	if query == "" {
		return "", fmt.Errorf("store: query file %s is empty", path)
	}
	return query, nil
}
