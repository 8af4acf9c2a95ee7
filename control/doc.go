// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime counters and debug introspection for a running server.
//
// Counters are lock-free and updated from reactor loops and workers alike;
// Snapshot copies them into a plain value. DebugProbes exposes named
// callbacks that report live internal state on demand.
package control
