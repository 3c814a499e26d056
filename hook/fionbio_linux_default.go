//go:build linux && !(mips || mipsle || mips64 || mips64le || ppc || ppc64 || ppc64le || sparc64)

// File: hook/fionbio_linux_default.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package hook

// FIONBIO is the ioctl request toggling nonblocking mode. x/sys/unix does
// not export it for linux.
const FIONBIO = 0x5421
