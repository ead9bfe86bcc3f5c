package models

import "errors"

// ErrNotFound is returned by stores when a user or connection row does
// not exist.
var ErrNotFound = errors.New("not found")
