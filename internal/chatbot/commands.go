package chatbot

import (
	"context"
	"fmt"

	"TemanTenang/internal/persona"
)

// Command is one user interaction reported by the hosting UI
type Command interface {
	command()
}

// SetPersona selects a predefined persona
type SetPersona struct {
	Name string
}

// SetCustomPersona carries the custom persona text. Nothing changes until
// Save is set.
type SetCustomPersona struct {
	Text string
	Save bool
}

// SelectPersonaMode toggles between predefined and custom personas
type SelectPersonaMode struct {
	Mode persona.Mode
}

// SetTemperature changes the sampling temperature
type SetTemperature struct {
	Value float64
}

// SubmitMessage starts a turn with the user's message
type SubmitMessage struct {
	Text string
}

// Retry re-sends the conversation after a failed turn
type Retry struct{}

func (SetPersona) command()        {}
func (SetCustomPersona) command()  {}
func (SelectPersonaMode) command() {}
func (SetTemperature) command()    {}
func (SubmitMessage) command()     {}
func (Retry) command()             {}

// Handle applies cmd to the session. Only SubmitMessage and Retry start a
// turn and return a result; display receives streamed fragments.
func (c *Controller) Handle(ctx context.Context, cmd Command, display func(string)) (*TurnResult, error) {
	switch cmd := cmd.(type) {
	case SetPersona:
		return nil, c.SetPersona(cmd.Name)
	case SetCustomPersona:
		if !cmd.Save {
			return nil, nil
		}
		return nil, c.SaveCustomPersona(cmd.Text)
	case SelectPersonaMode:
		c.SelectMode(cmd.Mode)
		return nil, nil
	case SetTemperature:
		return nil, c.SetTemperature(cmd.Value)
	case SubmitMessage:
		return c.Submit(ctx, cmd.Text, display)
	case Retry:
		return c.Retry(ctx, display)
	default:
		return nil, fmt.Errorf("unknown command %T", cmd)
	}
}
