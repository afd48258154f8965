package discord

import "errors"

// ErrNotConnected reports a transport call with no live voice connection.
var ErrNotConnected = errors.New("discord: not connected")
