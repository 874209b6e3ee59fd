package service

import (
	"errors"
	"unicode/utf8"
)

const maxUtteranceBytes = 100_000 // ~100KB

// validateUtterance validates user message text before anything is
// persisted or sent.
func validateUtterance(text string) error {
	if len(text) == 0 {
		return errors.New("message cannot be empty")
	}
	if len(text) > maxUtteranceBytes {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// validateTitle validates a conversation title.
func validateTitle(title string) error {
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
