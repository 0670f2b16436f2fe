package hud

import "errors"

// ErrGuardClosed is returned by Navigate after Close.
var ErrGuardClosed = errors.New("hud: guard closed")
