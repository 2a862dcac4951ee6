//go:build windows

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Windows errno definitions.
//

package faultconn

import "golang.org/x/sys/windows"

const (
	// ENETDOWN is the network is down error.
	ENETDOWN = windows.WSAENETDOWN
)
