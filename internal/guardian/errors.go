package guardian

import "errors"

// ErrThreatNotFound is returned for an unknown threat id.
var ErrThreatNotFound = errors.New("threat_not_found")
