package types

import "errors"

// Domain errors for contract validation
var (
	// ErrInvalidRefreshInfo is returned when a RefreshInfo violates its contract
	ErrInvalidRefreshInfo = errors.New("invalid refresh info")
	// ErrUnsupportedLanguage is returned when no adapter handles a file extension
	ErrUnsupportedLanguage = errors.New("unsupported language")
)
