package graph

import (
	"context"
	"errors"
)

// Client is the contract the edge repository needs from the underlying graph
// database. Implementations exist for Neo4j (production) and in-memory (tests
// and local runs without a graph store).
type Client interface {
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (Result, error)
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) (Result, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Result is a flattened query response.
type Result struct {
	Records []Record
}

// Record holds one row of key-value pairs returned by the graph engine.
type Record map[string]any

// Options configures a graph client.
type Options struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// ErrMissingURI indicates no graph endpoint was configured.
var ErrMissingURI = errors.New("graph URI is required")
