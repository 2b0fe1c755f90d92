package account

import "errors"

var (
	ErrNotFound     = errors.New("account: not found")
	ErrConflict     = errors.New("account: already exists")
	ErrInvalidInput = errors.New("account: invalid input")
)
