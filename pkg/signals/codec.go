package signals

import (
	"encoding/json"

	"github.com/grovetools/statesync/errors"
)

var commandTypes = map[string]func() Command{
	"set":         func() Command { return &SetCommand{} },
	"increment":   func() Command { return &IncrementCommand{} },
	"insert":      func() Command { return &InsertCommand{} },
	"put":         func() Command { return &PutCommand{} },
	"putIfAbsent": func() Command { return &PutIfAbsentCommand{} },
	"removeByKey": func() Command { return &RemoveByKeyCommand{} },
	"remove":      func() Command { return &RemoveCommand{} },
	"clear":       func() Command { return &ClearCommand{} },
	"adoptAt":     func() Command { return &AdoptAtCommand{} },
	"adoptAs":     func() Command { return &AdoptAsCommand{} },
	"value":       func() Command { return &ValueCondition{} },
	"key":         func() Command { return &KeyCondition{} },
	"position":    func() Command { return &PositionCondition{} },
	"lastUpdate":  func() Command { return &LastUpdateCondition{} },
	"transaction": func() Command { return &TransactionCommand{} },
}

// MarshalCommand encodes cmd as a JSON object with a "type" discriminator.
func MarshalCommand(cmd Command) ([]byte, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnsupportedType, "failed to encode command").
			WithDetail("command", string(cmd.CommandID()))
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "command did not encode as an object")
	}
	fields["type"], _ = json.Marshal(cmd.commandType())
	return json.Marshal(fields)
}

// UnmarshalCommand decodes a command written by MarshalCommand.
func UnmarshalCommand(data []byte) (Command, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedJSON, "failed to decode command")
	}
	factory, ok := commandTypes[probe.Type]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownCommand, "unknown command type").
			WithDetail("type", probe.Type)
	}
	cmd := factory()
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedJSON, "failed to decode command").
			WithDetail("type", probe.Type)
	}
	return cmd, nil
}

type transactionJSON struct {
	ID       ID                `json:"id"`
	Commands []json.RawMessage `json:"commands"`
}

func (c *TransactionCommand) MarshalJSON() ([]byte, error) {
	out := transactionJSON{ID: c.ID, Commands: make([]json.RawMessage, len(c.Commands))}
	for i, sub := range c.Commands {
		data, err := MarshalCommand(sub)
		if err != nil {
			return nil, err
		}
		out.Commands[i] = data
	}
	return json.Marshal(out)
}

func (c *TransactionCommand) UnmarshalJSON(data []byte) error {
	var in transactionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	c.ID = in.ID
	c.Commands = make([]Command, len(in.Commands))
	for i, raw := range in.Commands {
		sub, err := UnmarshalCommand(raw)
		if err != nil {
			return err
		}
		c.Commands[i] = sub
	}
	return nil
}
