// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about file processing and image variant generation.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetPipelineHooks(&myPipelineHooks{})
//	    observability.SetImageHooks(&myImageHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Pipeline().OnFileStart(ctx, path)
//	// ... rewrite and format ...
//	observability.Pipeline().OnFileComplete(ctx, path, changed, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Pipeline Hooks
// =============================================================================

// PipelineHooks receives events from the post-processing driver.
type PipelineHooks interface {
	// OnFileStart is called before a file is read.
	OnFileStart(ctx context.Context, path string)

	// OnFileComplete is called after a file was processed (and written back if changed).
	OnFileComplete(ctx context.Context, path string, changed bool, duration time.Duration, err error)
}

// =============================================================================
// Image Hooks
// =============================================================================

// ImageHooks receives events about optimization nodes and variant files.
type ImageHooks interface {
	// OnNodeSkipped records an optimization node left untouched.
	OnNodeSkipped(ctx context.Context, file, src string, err error)

	// OnVariantWritten records a newly encoded variant.
	OnVariantWritten(ctx context.Context, path, format string, size int)

	// OnVariantReused records a variant whose content-addressed path already existed.
	OnVariantReused(ctx context.Context, path, format string)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopPipelineHooks is a no-op implementation of PipelineHooks.
type NoopPipelineHooks struct{}

func (NoopPipelineHooks) OnFileStart(context.Context, string) {}
func (NoopPipelineHooks) OnFileComplete(context.Context, string, bool, time.Duration, error) {
}

// NoopImageHooks is a no-op implementation of ImageHooks.
type NoopImageHooks struct{}

func (NoopImageHooks) OnNodeSkipped(context.Context, string, string, error)  {}
func (NoopImageHooks) OnVariantWritten(context.Context, string, string, int) {}
func (NoopImageHooks) OnVariantReused(context.Context, string, string)       {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	pipelineHooks PipelineHooks = NoopPipelineHooks{}
	imageHooks    ImageHooks    = NoopImageHooks{}
	hooksMu       sync.RWMutex
)

// SetPipelineHooks registers custom pipeline hooks.
// This should be called once at application startup before any pipeline operations.
func SetPipelineHooks(h PipelineHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		pipelineHooks = h
	}
}

// SetImageHooks registers custom image hooks.
func SetImageHooks(h ImageHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		imageHooks = h
	}
}

// Pipeline returns the registered pipeline hooks.
func Pipeline() PipelineHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return pipelineHooks
}

// Images returns the registered image hooks.
func Images() ImageHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return imageHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	pipelineHooks = NoopPipelineHooks{}
	imageHooks = NoopImageHooks{}
}
