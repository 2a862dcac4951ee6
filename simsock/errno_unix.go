//go:build unix

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// UNIX errno definitions.
//

package simsock

import "golang.org/x/sys/unix"

const (
	// ECONNRESET is the connection reset by peer error.
	ECONNRESET = unix.ECONNRESET
)
