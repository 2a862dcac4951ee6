//go:build unix

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// UNIX errno definitions.
//

package faultconn

import "golang.org/x/sys/unix"

const (
	// ENETDOWN is the network is down error.
	ENETDOWN = unix.ENETDOWN
)
