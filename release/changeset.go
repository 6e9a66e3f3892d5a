package release

import (
	"context"
	"fmt"

	"github.com/burrowhq/burrow/model"
	"github.com/burrowhq/burrow/store"
)

// ItemChange is one pending edit to a namespace's configuration lines.
type ItemChange struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	LineNum int    `json:"lineNum"`
}

// ItemChangeSets carries the add/update/delete item operations resolved by
// an upstream text differ. The engine applies them verbatim.
type ItemChangeSets struct {
	Creates []ItemChange `json:"creates"`
	Updates []ItemChange `json:"updates"`
	Deletes []string     `json:"deletes"`
}

func (s ItemChangeSets) Empty() bool {
	return len(s.Creates) == 0 && len(s.Updates) == 0 && len(s.Deletes) == 0
}

// applyChangeSets writes the change sets to the namespace's item rows.
// Runs inside the caller's transaction.
func applyChangeSets(ctx context.Context, tx store.Store, namespaceID int64, sets ItemChangeSets) error {
	for _, c := range sets.Creates {
		item := &model.Item{NamespaceID: namespaceID, Key: c.Key, Value: c.Value, LineNum: c.LineNum}
		if err := tx.Items().Save(ctx, item); err != nil {
			return fmt.Errorf("failed to create item %q: %w", c.Key, err)
		}
	}
	for _, c := range sets.Updates {
		item, err := tx.Items().FindByKey(ctx, namespaceID, c.Key)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("item %q not found for update", c.Key)
		}
		item.Value = c.Value
		if c.LineNum > 0 {
			item.LineNum = c.LineNum
		}
		if err := tx.Items().Save(ctx, item); err != nil {
			return fmt.Errorf("failed to update item %q: %w", c.Key, err)
		}
	}
	for _, key := range sets.Deletes {
		item, err := tx.Items().FindByKey(ctx, namespaceID, key)
		if err != nil {
			return err
		}
		if item == nil {
			continue
		}
		if err := tx.Items().Delete(ctx, item.ID); err != nil {
			return fmt.Errorf("failed to delete item %q: %w", key, err)
		}
	}
	return nil
}
