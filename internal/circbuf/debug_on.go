// SPDX-License-Identifier: MIT
//go:build circbufdebug

package circbuf

const debugChecks = true
