// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a minimal readiness reactor used to wait on a
// device descriptor while staying cancellable from another goroutine. The
// Linux implementation pairs epoll with a sticky eventfd wake source.
package reactor
