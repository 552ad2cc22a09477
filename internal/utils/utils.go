package utils

import "github.com/rs/zerolog"

// LogFor logs a failed background operation and reports whether it failed.
func LogFor(l zerolog.Logger, op string, err error) bool {
	if err == nil {
		return false
	}
	l.Error().Err(err).Str("op", op).Msg("operation failed")
	return true
}
