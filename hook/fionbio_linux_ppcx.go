//go:build linux && (ppc || ppc64 || ppc64le || sparc64)

// File: hook/fionbio_linux_ppcx.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package hook

// FIONBIO is the ioctl request toggling nonblocking mode, _IOW('f', 126, int).
const FIONBIO = 0x8004667e
