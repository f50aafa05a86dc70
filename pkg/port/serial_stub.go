//go:build !linux

package port

import (
	"errors"
	"net/url"
)

// Serial devices are only supported on Linux.
func openSerial(u *url.URL) (Port, error) {
	return nil, errors.New("serial ports are not supported on this platform")
}
