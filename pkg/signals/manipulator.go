package signals

import "slices"

// manipulator collects the effects of one command against a base revision.
// Later steps of the same command see the collected effects; nothing touches
// the base until the command is accepted.
type manipulator struct {
	base *MutableTreeRevision
	cmd  Command

	updated       map[ID]Node
	detached      map[ID]bool
	detachedOrder []ID

	result     CommandResult
	subResults map[ID]CommandResult
	subOrder   []ID
}

func newManipulator(base *MutableTreeRevision, cmd Command) *manipulator {
	return &manipulator{
		base:     base,
		cmd:      cmd,
		updated:  make(map[ID]Node),
		detached: make(map[ID]bool),
	}
}

func (m *manipulator) fail(reason string) {
	if m.result == nil {
		m.result = Reject{Reason: reason}
	}
}

func (m *manipulator) markDetached(id ID) {
	if !m.detached[id] {
		m.detached[id] = true
		m.detachedOrder = append(m.detachedOrder, id)
	}
}

func (m *manipulator) unmarkDetached(id ID) {
	if m.detached[id] {
		delete(m.detached, id)
		m.detachedOrder = slices.DeleteFunc(m.detachedOrder, func(d ID) bool { return d == id })
	}
}

func (m *manipulator) resolveAlias(id ID) ID {
	n, ok := m.updated[id]
	if !ok {
		n = m.base.nodes[id]
	}
	if alias, isAlias := n.(Alias); isAlias {
		return alias.Target
	}
	return id
}

func (m *manipulator) data(id ID) (Data, bool) {
	id = m.resolveAlias(id)
	if m.detached[id] {
		return Data{}, false
	}
	if n, ok := m.updated[id]; ok {
		d, isData := n.(Data)
		return d, isData
	}
	return m.base.Data(id)
}

func (m *manipulator) useData(id ID, fn func(node Data, id ID)) {
	id = m.resolveAlias(id)
	node, ok := m.data(id)
	if !ok {
		m.fail(ReasonNodeNotFound)
		return
	}
	fn(node, id)
}

func (m *manipulator) updateData(id ID, update func(Data) (Data, bool)) {
	m.useData(id, func(node Data, id ID) {
		if updated, changed := update(node); changed {
			m.updated[id] = updated
		}
	})
}

func (m *manipulator) value(id ID) any {
	d, _ := m.data(id)
	return d.Value
}

func (m *manipulator) setValue(id ID, value any) {
	m.updateData(id, func(node Data) (Data, bool) {
		return node.withValue(normalizeValue(value), m.cmd.CommandID()), true
	})
}

func (m *manipulator) mapChild(id ID, key string) (ID, bool) {
	d, ok := m.data(id)
	if !ok {
		return "", false
	}
	child, ok := d.MapChildren[key]
	return child, ok
}

func (m *manipulator) listChildren(id ID) []ID {
	d, _ := m.data(id)
	return d.ListChildren
}

func (m *manipulator) isSameNode(a, b ID) bool {
	return m.resolveAlias(a) == m.resolveAlias(b)
}

func (m *manipulator) isChildAt(parent ID, index int, expected ID) bool {
	children := m.listChildren(parent)
	if index < 0 || index >= len(children) {
		return false
	}
	return m.isSameNode(children[index], expected)
}

func (m *manipulator) detach(id ID) bool {
	m.useData(id, func(node Data, id ID) {
		if id == ZeroID {
			m.fail(ReasonDetachRoot)
			return
		}
		if node.Parent == "" {
			m.fail(ReasonNotAttached)
			return
		}
		parent, ok := m.data(node.Parent)
		if !ok {
			m.fail(ReasonNotAttached)
			return
		}

		key, inMap := "", false
		for k, child := range parent.MapChildren {
			if child == id {
				key, inMap = k, true
				break
			}
		}
		if inMap {
			m.updated[node.Parent] = parent.withMapChildren(m.cmd.CommandID(), func(children map[string]ID) {
				delete(children, key)
			})
		} else {
			m.updated[node.Parent] = parent.withListChildren(m.cmd.CommandID(), func(children []ID) []ID {
				return slices.DeleteFunc(children, func(c ID) bool { return c == id })
			})
		}
		m.markDetached(id)
	})
	return m.result == nil
}

func (m *manipulator) attach(parentID, childID ID, attacher func(parent Data, child ID) (Data, bool)) {
	if m.result != nil {
		return
	}
	parent := m.resolveAlias(parentID)
	child := m.resolveAlias(childID)

	if !m.detached[child] {
		m.fail(ReasonNotDetached)
		return
	}
	for ancestor := parent; ancestor != ""; {
		if ancestor == child {
			m.fail(ReasonAdoptAncestor)
			return
		}
		d, ok := m.data(ancestor)
		if !ok {
			break
		}
		ancestor = d.Parent
	}

	m.useData(parent, func(node Data, id ID) {
		m.unmarkDetached(child)
		updated, ok := attacher(node, child)
		if !ok || m.result != nil {
			return
		}
		childData, _ := m.data(child)
		m.updated[id] = updated
		m.updated[child] = childData.withParent(id)
	})
}

func (m *manipulator) attachAs(parent ID, key string, child ID) {
	m.attach(parent, child, func(node Data, child ID) (Data, bool) {
		if _, taken := node.MapChildren[key]; taken {
			m.fail(ReasonKeyInUse)
			return node, false
		}
		return node.withMapChildren(m.cmd.CommandID(), func(children map[string]ID) {
			children[key] = child
		}), true
	})
}

func (m *manipulator) attachAt(parent ID, pos ListPosition, child ID) {
	m.attach(parent, child, func(node Data, child ID) (Data, bool) {
		index := m.findInsertIndex(node.ListChildren, pos)
		if index < 0 {
			m.fail(ReasonPositionNotMatched)
			return node, false
		}
		return node.withListChildren(m.cmd.CommandID(), func(children []ID) []ID {
			return slices.Insert(children, index, child)
		}), true
	})
}

func (m *manipulator) findInsertIndex(children []ID, pos ListPosition) int {
	after := m.resolveAlias(pos.After)
	before := m.resolveAlias(pos.Before)

	if after != "" {
		position := 0
		if after != EdgeID {
			i := slices.Index(children, after)
			if i < 0 {
				return -1
			}
			position = i + 1
		}
		if before != "" {
			atPosition := EdgeID
			if position < len(children) {
				atPosition = children[position]
			}
			if atPosition != before {
				return -1
			}
		}
		return position
	}

	switch before {
	case "":
		return -1
	case EdgeID:
		return len(children)
	default:
		return slices.Index(children, before)
	}
}

func (m *manipulator) createNode(id ID, value any) {
	if _, exists := m.data(id); exists {
		m.fail(ReasonNodeExists)
		return
	}
	m.markDetached(id)
	m.updated[id] = Data{LastUpdate: m.cmd.CommandID(), Value: normalizeValue(value)}
}

func (m *manipulator) handle() CommandResult {
	switch c := m.cmd.(type) {
	case *ValueCondition:
		m.result = conditional(valuesEqual(m.value(c.Target), c.Expected), ReasonUnexpectedValue)
	case *KeyCondition:
		m.handleKeyCondition(c)
	case *PositionCondition:
		m.handlePositionCondition(c)
	case *LastUpdateCondition:
		d, _ := m.data(c.Target)
		m.result = conditional(d.LastUpdate == c.ExpectedLastUpdate, ReasonUnexpectedLastUpdate)
	case *SetCommand:
		m.setValue(c.Target, c.Value)
	case *IncrementCommand:
		m.handleIncrement(c)
	case *InsertCommand:
		m.createNode(c.ID, c.Value)
		m.attachAt(c.Target, c.Position, c.ID)
	case *PutCommand:
		if child, ok := m.mapChild(c.Target, c.Key); ok {
			m.setValue(child, c.Value)
		} else {
			m.createNode(c.ID, c.Value)
			m.attachAs(c.Target, c.Key, c.ID)
		}
	case *PutIfAbsentCommand:
		if child, ok := m.mapChild(c.Target, c.Key); ok {
			if _, exists := m.data(c.ID); exists {
				m.fail(ReasonNodeExists)
			} else {
				m.updated[c.ID] = Alias{Target: m.resolveAlias(child)}
			}
		} else {
			m.createNode(c.ID, c.Value)
			m.attachAs(c.Target, c.Key, c.ID)
		}
	case *RemoveByKeyCommand:
		if child, ok := m.mapChild(c.Target, c.Key); ok {
			m.detach(child)
		} else {
			m.fail(ReasonKeyNotPresent)
		}
	case *RemoveCommand:
		if c.ExpectedParent != "" {
			d, _ := m.data(c.Target)
			if !m.isSameNode(c.ExpectedParent, d.Parent) {
				m.fail(ReasonNotAChild)
				break
			}
		}
		m.detach(c.Target)
	case *ClearCommand:
		m.updateData(c.Target, func(node Data) (Data, bool) {
			if len(node.ListChildren) == 0 && len(node.MapChildren) == 0 {
				return node, false
			}
			for _, child := range node.ListChildren {
				m.markDetached(child)
			}
			for _, key := range node.Keys() {
				m.markDetached(node.MapChildren[key])
			}
			return Data{Parent: node.Parent, LastUpdate: m.cmd.CommandID(), Value: node.Value}, true
		})
	case *AdoptAtCommand:
		if m.detach(c.Child) {
			m.attachAt(c.Target, c.Position, c.Child)
		}
	case *AdoptAsCommand:
		if m.detach(c.Child) {
			m.attachAs(c.Target, c.Key, c.Child)
		}
	case *TransactionCommand:
		m.handleTransaction(c)
	default:
		m.fail("Unsupported command")
	}

	if m.result != nil {
		return m.result
	}
	return m.collectUpdates()
}

func (m *manipulator) collectUpdates() CommandResult {
	updates := make(map[ID]NodeModification)
	for id, node := range m.updated {
		if !m.detached[id] {
			updates[id] = NodeModification{Old: m.base.nodes[id], New: node}
		}
	}
	if len(m.detachedOrder) == 0 {
		return Accept{Updates: updates}
	}

	reverseAliases := make(map[ID][]ID)
	for id, node := range m.base.nodes {
		if alias, ok := node.(Alias); ok {
			reverseAliases[alias.Target] = append(reverseAliases[alias.Target], id)
		}
	}

	queue := slices.Clone(m.detachedOrder)
	for len(queue) > 0 {
		removed := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		updates[removed] = NodeModification{Old: m.base.nodes[removed]}
		for _, alias := range reverseAliases[removed] {
			updates[alias] = NodeModification{Old: m.base.nodes[alias]}
		}
		if d, ok := m.base.Data(removed); ok {
			queue = append(queue, d.ListChildren...)
			for _, key := range d.Keys() {
				queue = append(queue, d.MapChildren[key])
			}
		}
	}
	return Accept{Updates: updates}
}

func (m *manipulator) handleKeyCondition(c *KeyCondition) {
	actual, present := m.mapChild(c.Target, c.Key)
	switch c.ExpectedChild {
	case "":
		m.result = conditional(present, ReasonKeyNotPresent)
	case ZeroID:
		m.result = conditional(!present, ReasonKeyPresent)
	default:
		m.result = conditional(present && m.isSameNode(actual, c.ExpectedChild), ReasonUnexpectedChild)
	}
}

func (m *manipulator) handlePositionCondition(c *PositionCondition) {
	children := m.listChildren(c.Target)
	index := slices.Index(children, m.resolveAlias(c.Child))
	if index < 0 {
		m.fail(ReasonNotAChild)
		return
	}

	if after := c.Position.After; after != "" {
		if after == EdgeID {
			if index != 0 {
				m.fail(ReasonNotFirstChild)
				return
			}
		} else if !m.isChildAt(c.Target, index-1, after) {
			m.fail(ReasonNotAfter)
			return
		}
	}
	if before := c.Position.Before; before != "" {
		if before == EdgeID {
			if index != len(children)-1 {
				m.fail(ReasonNotLastChild)
				return
			}
		} else if !m.isChildAt(c.Target, index+1, before) {
			m.fail(ReasonNotBefore)
			return
		}
	}
	m.result = accept()
}

func (m *manipulator) handleIncrement(c *IncrementCommand) {
	var next float64
	switch v := m.value(c.Target).(type) {
	case float64:
		next = v + c.Delta
	case nil:
		next = c.Delta
	default:
		m.fail(ReasonNotNumeric)
		return
	}
	m.setValue(c.Target, next)
}

func (m *manipulator) handleTransaction(c *TransactionCommand) {
	scratch := m.base.Mutable()
	m.subResults = make(map[ID]CommandResult)
	record := func(id ID, res CommandResult) {
		if _, seen := m.subResults[id]; !seen {
			m.subOrder = append(m.subOrder, id)
		}
		m.subResults[id] = res
	}

	var firstReject CommandResult
	for _, sub := range c.Commands {
		if res := scratch.ApplyWithResults(sub, record); !res.Accepted() {
			firstReject = res
			break
		}
	}

	if firstReject != nil {
		for _, sub := range c.Commands {
			if res, ok := m.subResults[sub.CommandID()]; !ok || res.Accepted() {
				record(sub.CommandID(), Reject{Reason: ReasonTransactionAborted})
			}
		}
		m.result = firstReject
		return
	}

	merged := make(map[ID]NodeModification)
	for _, sub := range c.Commands {
		a := m.subResults[sub.CommandID()].(Accept)
		for id, mod := range a.Updates {
			if prev, ok := merged[id]; ok {
				merged[id] = NodeModification{Old: prev.Old, New: mod.New}
			} else {
				merged[id] = mod
			}
		}
	}
	m.result = Accept{Updates: merged}
}
