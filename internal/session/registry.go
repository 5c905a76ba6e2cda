package session

import (
	"github.com/softwareproject/portal/internal/client"
	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/interfaces"
)

// Registry hands out a Manager per browser. All managers share one KV
// backend and one API client.
type Registry struct {
	storage interfaces.StorageManager
	api     *client.APIClient
	logger  *common.Logger
	opts    Options
}

// NewRegistry creates a registry. The registry takes ownership of storage
// and closes it in Close.
func NewRegistry(storage interfaces.StorageManager, api *client.APIClient, logger *common.Logger, opts Options) *Registry {
	return &Registry{storage: storage, api: api, logger: logger, opts: opts}
}

// Open returns the manager for the browser identified by clientID.
func (r *Registry) Open(clientID string) *Manager {
	store := NewStore(r.storage.KeyValueStorage(), clientID)
	return NewManager(store, r.api, r.api.HTTPClient(), r.logger, r.opts)
}

// API returns the shared API client.
func (r *Registry) API() *client.APIClient {
	return r.api
}

// Close releases the storage backend.
func (r *Registry) Close() error {
	return r.storage.Close()
}
