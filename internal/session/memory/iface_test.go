package memory_test

import (
	"github.com/urbanviz/mobview/internal/session"
	"github.com/urbanviz/mobview/internal/session/memory"
)

// Compile-time interface checks
var (
	_ session.Backend    = (*memory.Backend)(nil)
	_ session.Exportable = (*memory.Backend)(nil)
)
