// Package types defines shared data structures for the MediaForge gateway:
// unified error codes and the structured Error type used across provider
// adapters, the artifact cache, the output router, and the workflow engine.
package types
