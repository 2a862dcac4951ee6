//go:build windows

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Windows errno definitions.
//

package simsock

import "golang.org/x/sys/windows"

const (
	// ECONNRESET is the connection reset by peer error.
	ECONNRESET = windows.WSAECONNRESET
)
