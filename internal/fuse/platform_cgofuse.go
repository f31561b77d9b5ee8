//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"

	"github.com/objcachefs/objcachefs/internal/vfscore"
	"github.com/objcachefs/objcachefs/pkg/types"
)

// Platform-specific filesystem interface
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() *FilesystemStats
}

// CreatePlatformMountManager creates the cgofuse mount manager
func CreatePlatformMountManager(core *vfscore.Core, writeBuffer types.WriteBuffer,
	metrics types.MetricsCollector, config *MountConfig) PlatformFileSystem {

	return NewCgoFuseMountManager(core, writeBuffer, metrics, config)
}
