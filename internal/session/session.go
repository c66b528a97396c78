// Package session records what a viewing session loaded, so it can be
// replayed or inspected offline later. Backends mirror the loader passively;
// recording never sits on the fetch-render path.
package session

import "github.com/urbanviz/mobview/internal/model"

// Backend is the interface all session recording implementations must satisfy.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(dataset, notes string) error
	EndSession() error

	// Point recording
	RecordPoints(points []model.Point) error
}

// Exportable is an optional interface for backends that produce a file on
// session end.
type Exportable interface {
	GetExportedFilePath() string
}
