// Package api defines public API contracts for shmcopy.
package api

import (
	"context"

	"github.com/srediag/shmcopy/pkg/transport"
)

// CopyTool copies one file to another path, possibly through a peer process.
type CopyTool interface {
	// CopyFile copies source to destination. Which side of the copy this
	// process performs is decided by the implementation.
	CopyFile(ctx context.Context, source, destination string) (transport.Report, error)
	// Terminate aborts an in-flight CopyFile and releases any peer.
	Terminate()
}
