package signals

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"sort"
)

// Node is either Data or an Alias.
type Node interface {
	isNode()
}

// Data holds a node's value and children. Data values are never modified in
// place; updates produce a new Data.
type Data struct {
	Parent       ID            `json:"parent,omitempty"`
	LastUpdate   ID            `json:"lastUpdate,omitempty"`
	Value        any           `json:"value"`
	ListChildren []ID          `json:"listChildren,omitempty"`
	MapChildren  map[string]ID `json:"mapChildren,omitempty"`
}

// Alias points at another node. PutIfAbsent creates an alias when the key is
// already taken so the command id still resolves.
type Alias struct {
	Target ID `json:"target"`
}

func (Data) isNode()  {}
func (Alias) isNode() {}

// Keys returns the map child keys, sorted.
func (d Data) Keys() []string {
	keys := make([]string, 0, len(d.MapChildren))
	for k := range d.MapChildren {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d Data) withValue(value any, lastUpdate ID) Data {
	d.Value = value
	d.LastUpdate = lastUpdate
	return d
}

func (d Data) withParent(parent ID) Data {
	d.Parent = parent
	return d
}

func (d Data) withMapChildren(lastUpdate ID, update func(map[string]ID)) Data {
	children := maps.Clone(d.MapChildren)
	if children == nil {
		children = make(map[string]ID)
	}
	update(children)
	d.MapChildren = children
	d.LastUpdate = lastUpdate
	return d
}

func (d Data) withListChildren(lastUpdate ID, update func([]ID) []ID) Data {
	d.ListChildren = update(slices.Clone(d.ListChildren))
	d.LastUpdate = lastUpdate
	return d
}

// normalizeValue converts value to the shape encoding/json would decode it
// into, so stored values compare equal to their wire form.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case nil, bool, string, float64:
		return v
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil
		}
		return out
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return value
	}
	return out
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}
