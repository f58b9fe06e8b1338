package gateway

import "runtime"

// Version is reported to the gateway in the connect handshake.
const Version = "0.3.0"

func platformName() string {
	return runtime.GOOS
}
