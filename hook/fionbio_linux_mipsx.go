//go:build linux && (mips || mipsle || mips64 || mips64le)

// File: hook/fionbio_linux_mipsx.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package hook

// FIONBIO is the ioctl request toggling nonblocking mode.
const FIONBIO = 0x667e
