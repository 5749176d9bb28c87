package store

import "errors"

var (
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrSettingsNotFound     = errors.New("settings not found")
	ErrNotificationNotFound = errors.New("notification record not found")
	ErrConflict             = errors.New("concurrent update conflict")
	ErrInvalidState         = errors.New("invalid ticket state")
)
