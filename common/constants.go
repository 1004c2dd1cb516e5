package common

import (
	"time"
)

const (
	// filenames
	LogFileName      = "sokdak.log"
	SessionFileName  = "session.json"
	VerifierFileName = "pkce.json"

	DefaultHTTPTimeout = 30 * time.Second

	// log rotation
	logMaxSizeMB  = 10
	logMaxBackups = 3
)
