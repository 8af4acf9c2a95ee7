// Package pool recycles the byte slices that carry serialized responses
// and frames from workers to reactor loops.
//
// Buffers are grouped in power-of-four size classes. A slice handed to Put
// must not be referenced by the caller afterwards.
package pool
