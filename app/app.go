// Package app holds the identity the client reports to the backend.
package app

import "runtime"

const (
	Name    = "sokdak"
	Version = "1.2.0"

	// ClientInfo is sent as X-Client-Info on every backend request.
	ClientInfo = "sokdak-go/" + Version

	// DefaultLocale is used when neither the frontend nor the OS provide one.
	DefaultLocale = "ko-KR"
)

var Platform = runtime.GOOS
