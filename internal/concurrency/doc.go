// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker dispatch primitives: a fixed pool with a bounded queue, an elastic
// goroutine-per-task executor with bounded admission, and a serial queue
// that runs callbacks one at a time in submission order. None of them ever
// blocks the submitting goroutine.
package concurrency
