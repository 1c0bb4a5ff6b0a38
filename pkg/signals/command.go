package signals

// Command is a mutation or condition applied to a tree revision.
type Command interface {
	// CommandID is unique per command. Nodes created by the command take
	// this id.
	CommandID() ID
	// TargetNodeID is the node the command operates on.
	TargetNodeID() ID
	commandType() string
}

// SetCommand replaces the value of a node.
type SetCommand struct {
	ID     ID  `json:"id"`
	Target ID  `json:"target"`
	Value  any `json:"value"`
}

// IncrementCommand adds Delta to a numeric value. A nil value counts as zero.
type IncrementCommand struct {
	ID     ID      `json:"id"`
	Target ID      `json:"target"`
	Delta  float64 `json:"delta"`
}

// InsertCommand creates a node holding Value and inserts it into the target's
// list at Position.
type InsertCommand struct {
	ID       ID           `json:"id"`
	Target   ID           `json:"target"`
	Value    any          `json:"value"`
	Position ListPosition `json:"position"`
}

// PutCommand sets the value of the map child under Key, creating the child
// if needed.
type PutCommand struct {
	ID     ID     `json:"id"`
	Target ID     `json:"target"`
	Key    string `json:"key"`
	Value  any    `json:"value"`
}

// PutIfAbsentCommand creates a map child under Key unless one exists, in
// which case the command id becomes an alias of the existing child.
type PutIfAbsentCommand struct {
	ID     ID     `json:"id"`
	Target ID     `json:"target"`
	Key    string `json:"key"`
	Value  any    `json:"value"`
}

// RemoveByKeyCommand removes the map child under Key.
type RemoveByKeyCommand struct {
	ID     ID     `json:"id"`
	Target ID     `json:"target"`
	Key    string `json:"key"`
}

// RemoveCommand detaches the target node. If ExpectedParent is set the
// command is rejected unless the node is a child of it.
type RemoveCommand struct {
	ID             ID `json:"id"`
	Target         ID `json:"target"`
	ExpectedParent ID `json:"expectedParent,omitempty"`
}

// ClearCommand removes every child of the target.
type ClearCommand struct {
	ID     ID `json:"id"`
	Target ID `json:"target"`
}

// AdoptAtCommand moves Child into the target's list at Position.
type AdoptAtCommand struct {
	ID       ID           `json:"id"`
	Target   ID           `json:"target"`
	Child    ID           `json:"child"`
	Position ListPosition `json:"position"`
}

// AdoptAsCommand moves Child into the target's map under Key.
type AdoptAsCommand struct {
	ID     ID     `json:"id"`
	Target ID     `json:"target"`
	Child  ID     `json:"child"`
	Key    string `json:"key"`
}

// ValueCondition is accepted if the target's value equals Expected.
type ValueCondition struct {
	ID       ID  `json:"id"`
	Target   ID  `json:"target"`
	Expected any `json:"expected"`
}

// KeyCondition checks the target's map child under Key. An empty
// ExpectedChild requires any child, ZeroID requires no child, anything else
// requires that exact node.
type KeyCondition struct {
	ID            ID     `json:"id"`
	Target        ID     `json:"target"`
	Key           string `json:"key"`
	ExpectedChild ID     `json:"expectedChild,omitempty"`
}

// PositionCondition is accepted if Child sits at Position in the target's list.
type PositionCondition struct {
	ID       ID           `json:"id"`
	Target   ID           `json:"target"`
	Child    ID           `json:"child"`
	Position ListPosition `json:"position"`
}

// LastUpdateCondition is accepted if the target was last modified by
// ExpectedLastUpdate.
type LastUpdateCondition struct {
	ID                 ID `json:"id"`
	Target             ID `json:"target"`
	ExpectedLastUpdate ID `json:"expectedLastUpdate"`
}

// TransactionCommand applies Commands all-or-nothing.
type TransactionCommand struct {
	ID       ID        `json:"id"`
	Commands []Command `json:"commands"`
}

func (c *SetCommand) CommandID() ID          { return c.ID }
func (c *IncrementCommand) CommandID() ID    { return c.ID }
func (c *InsertCommand) CommandID() ID       { return c.ID }
func (c *PutCommand) CommandID() ID          { return c.ID }
func (c *PutIfAbsentCommand) CommandID() ID  { return c.ID }
func (c *RemoveByKeyCommand) CommandID() ID  { return c.ID }
func (c *RemoveCommand) CommandID() ID       { return c.ID }
func (c *ClearCommand) CommandID() ID        { return c.ID }
func (c *AdoptAtCommand) CommandID() ID      { return c.ID }
func (c *AdoptAsCommand) CommandID() ID      { return c.ID }
func (c *ValueCondition) CommandID() ID      { return c.ID }
func (c *KeyCondition) CommandID() ID        { return c.ID }
func (c *PositionCondition) CommandID() ID   { return c.ID }
func (c *LastUpdateCondition) CommandID() ID { return c.ID }
func (c *TransactionCommand) CommandID() ID  { return c.ID }

func (c *SetCommand) TargetNodeID() ID          { return c.Target }
func (c *IncrementCommand) TargetNodeID() ID    { return c.Target }
func (c *InsertCommand) TargetNodeID() ID       { return c.Target }
func (c *PutCommand) TargetNodeID() ID          { return c.Target }
func (c *PutIfAbsentCommand) TargetNodeID() ID  { return c.Target }
func (c *RemoveByKeyCommand) TargetNodeID() ID  { return c.Target }
func (c *RemoveCommand) TargetNodeID() ID       { return c.Target }
func (c *ClearCommand) TargetNodeID() ID        { return c.Target }
func (c *AdoptAtCommand) TargetNodeID() ID      { return c.Target }
func (c *AdoptAsCommand) TargetNodeID() ID      { return c.Target }
func (c *ValueCondition) TargetNodeID() ID      { return c.Target }
func (c *KeyCondition) TargetNodeID() ID        { return c.Target }
func (c *PositionCondition) TargetNodeID() ID   { return c.Target }
func (c *LastUpdateCondition) TargetNodeID() ID { return c.Target }
func (c *TransactionCommand) TargetNodeID() ID  { return ZeroID }

func (*SetCommand) commandType() string          { return "set" }
func (*IncrementCommand) commandType() string    { return "increment" }
func (*InsertCommand) commandType() string       { return "insert" }
func (*PutCommand) commandType() string          { return "put" }
func (*PutIfAbsentCommand) commandType() string  { return "putIfAbsent" }
func (*RemoveByKeyCommand) commandType() string  { return "removeByKey" }
func (*RemoveCommand) commandType() string       { return "remove" }
func (*ClearCommand) commandType() string        { return "clear" }
func (*AdoptAtCommand) commandType() string      { return "adoptAt" }
func (*AdoptAsCommand) commandType() string      { return "adoptAs" }
func (*ValueCondition) commandType() string      { return "value" }
func (*KeyCondition) commandType() string        { return "key" }
func (*PositionCondition) commandType() string   { return "position" }
func (*LastUpdateCondition) commandType() string { return "lastUpdate" }
func (*TransactionCommand) commandType() string  { return "transaction" }

// WriteRoot returns a command that sets the root value.
func WriteRoot(value any) *SetCommand {
	return &SetCommand{ID: NewID(), Target: ZeroID, Value: value}
}

// Transaction wraps commands into a TransactionCommand.
func Transaction(commands ...Command) *TransactionCommand {
	return &TransactionCommand{ID: NewID(), Commands: commands}
}

// CommandType returns the wire type tag of cmd, for example "set".
func CommandType(cmd Command) string {
	return cmd.commandType()
}
