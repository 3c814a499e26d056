// File: pool/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pool provides typed object pools for the buffers fibers borrow
// while they wait on descriptors.
package pool
