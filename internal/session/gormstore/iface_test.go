package gormstore_test

import (
	"github.com/urbanviz/mobview/internal/session"
	"github.com/urbanviz/mobview/internal/session/gormstore"
)

// Compile-time interface check
var _ session.Backend = (*gormstore.Backend)(nil)
