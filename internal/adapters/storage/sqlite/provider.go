// Package sqlite provides the SQLite invocation store adapter for the gateway.
package sqlite

import (
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
	"github.com/tjfontaine/pipeline-gateway/internal/storage/sqldb"
)

// DefaultPath is used when no database path is given.
const DefaultPath = "./data/gateway.db"

// Provider implements ports.InvocationStore using SQLite.
// It wraps the sqldb implementation.
type Provider struct {
	*sqldb.Store
}

// NewProvider opens the SQLite database at path.
func NewProvider(path string) (*Provider, error) {
	if path == "" {
		path = DefaultPath
	}
	store, err := sqldb.NewSQLite(path)
	if err != nil {
		return nil, err
	}

	return &Provider{
		Store: store,
	}, nil
}

// Ensure Provider implements ports.InvocationStore at compile time.
var _ ports.InvocationStore = (*Provider)(nil)
