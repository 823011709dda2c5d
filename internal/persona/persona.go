// Package persona builds the system instruction that shapes assistant replies.
//
// A predefined persona is the base system message followed by an instruction
// naming the persona. A custom persona is the user's text, used verbatim.
package persona

import (
	"fmt"
	"slices"
	"strings"

	"TemanTenang/internal/session"
)

// Mode selects where the persona text comes from
type Mode string

const (
	ModePredefined Mode = "predefined"
	ModeCustom     Mode = "custom"
)

const (
	Professional = "Professional"
	Empathetic   = "Empathetic"
	Motivational = "Motivational"

	// Default is the persona applied when a session starts
	Default = Professional
)

// BaseSystemMessage precedes every predefined persona instruction.
const BaseSystemMessage = `You are TemanTenang, a friendly companion with knowledge around mental health.
Listen carefully, answer in the language the user writes in, and keep replies supportive and practical.
You are not a replacement for a professional: when the user describes a crisis or risk of harm,
encourage them to contact local emergency services or a mental health professional.
`

// ErrUnknownPersona is returned for names outside the predefined set.
var ErrUnknownPersona = fmt.Errorf("unknown persona: %w", session.ErrInvalidInput)

var predefined = []string{Professional, Empathetic, Motivational}

// Names returns the predefined persona names in display order
func Names() []string {
	return slices.Clone(predefined)
}

// ParseMode parses a persona mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePredefined:
		return ModePredefined, nil
	case ModeCustom:
		return ModeCustom, nil
	}
	return "", fmt.Errorf("unknown persona mode %q: %w", s, session.ErrInvalidInput)
}

// Lookup resolves a case-insensitive persona name to its canonical form
func Lookup(name string) (string, error) {
	for _, p := range predefined {
		if strings.EqualFold(p, strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%q: %w", name, ErrUnknownPersona)
}

// Predefined returns the persona text for one of the predefined names.
func Predefined(name string) (string, error) {
	canonical, err := Lookup(name)
	if err != nil {
		return "", err
	}
	return BaseSystemMessage + fmt.Sprintf(
		"The user has selected %s persona. Respond accordingly throughout this conversation.",
		canonical,
	), nil
}

// Custom returns user supplied persona text unchanged. Blank text is rejected.
func Custom(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("custom persona is blank: %w", session.ErrInvalidInput)
	}
	return text, nil
}
