// Package realtime implements the household-scoped change feed: a server
// side broker with its WebSocket transport, and a client side mirror that
// folds the feed into a local list.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Entity names a collection carried by the feed.
type Entity string

const (
	EntityTasks         Entity = "tasks"
	EntityShoppingItems Entity = "shopping_items"
	EntityChatMessages  Entity = "chat_messages"
)

func (e Entity) Valid() bool {
	switch e {
	case EntityTasks, EntityShoppingItems, EntityChatMessages:
		return true
	}
	return false
}

type ChangeType string

const (
	Inserted ChangeType = "inserted"
	Updated  ChangeType = "updated"
	Deleted  ChangeType = "deleted"
)

// Event is one change to one record, as delivered on the wire.
type Event struct {
	Seq         uint64          `json:"seq"`
	Entity      Entity          `json:"entity"`
	Type        ChangeType      `json:"type"`
	HouseholdID int64           `json:"household_id"`
	ID          int64           `json:"id"`
	Record      json.RawMessage `json:"record,omitempty"`
}

// NewEvent builds an event carrying record encoded as JSON. record may be
// nil for deletions.
func NewEvent(entity Entity, typ ChangeType, householdID, id int64, record any) (Event, error) {
	ev := Event{Entity: entity, Type: typ, HouseholdID: householdID, ID: id}
	if record != nil {
		data, err := json.Marshal(record)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s record: %w", entity, err)
		}
		ev.Record = data
	}
	return ev, nil
}

// ParseEntities parses a comma separated entity list. An empty string
// selects every entity.
func ParseEntities(s string) ([]Entity, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []Entity
	for _, part := range strings.Split(s, ",") {
		e := Entity(strings.TrimSpace(part))
		if !e.Valid() {
			return nil, fmt.Errorf("unknown entity %q", part)
		}
		out = append(out, e)
	}
	return out, nil
}
