package domain

import "errors"

var (
	ErrHookUnsupported   = errors.New("broker does not expose this hook")
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrInvalidPayload    = errors.New("invalid message payload")
	ErrSettingsNotFound  = errors.New("persisted settings not found")
	ErrClientNotFound    = errors.New("client not found")
	ErrDetached          = errors.New("inspector already detached")
)
