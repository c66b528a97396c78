// Package dataset holds the currently active dataset and its statistics.
package dataset

import (
	"sync"

	"github.com/urbanviz/mobview/internal/api"
)

// Context holds the current dataset and its statistics blob
type Context struct {
	mu      sync.RWMutex
	Dataset *api.Dataset
	Stats   map[string]any
}

// NewContext creates a new Context with default values
func NewContext() *Context {
	return &Context{
		Dataset: &api.Dataset{Name: "No dataset loaded"},
		Stats:   map[string]any{},
	}
}

// GetDataset returns the current dataset
func (dc *Context) GetDataset() *api.Dataset {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.Dataset
}

// GetStats returns the current dataset statistics
func (dc *Context) GetStats() map[string]any {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.Stats
}

// SetDataset sets the current dataset and statistics
func (dc *Context) SetDataset(ds *api.Dataset, stats map[string]any) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.Dataset = ds
	dc.Stats = stats
}
