package session

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/urbanviz/mobview/internal/config"
	"github.com/urbanviz/mobview/internal/session/gormstore"
	"github.com/urbanviz/mobview/internal/session/memory"
)

// NewBackend creates a session backend based on configuration. The gorm
// backend needs a live database connection; the others ignore it.
func NewBackend(cfg config.SessionConfig, db *gorm.DB) (Backend, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(cfg.Memory), nil
	case "gorm":
		if db == nil {
			return nil, fmt.Errorf("gorm session backend requires a database connection")
		}
		return gormstore.New(gormstore.Dependencies{DB: db}), nil
	default:
		return nil, fmt.Errorf("unknown session backend type: %s", cfg.Type)
	}
}
