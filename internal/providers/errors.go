package providers

import "errors"

var (
	ErrProviderMisconfigured = errors.New("provider is misconfigured")
)
