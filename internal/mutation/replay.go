package mutation

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cameron64/HoneyDo-sub002/internal/model"
	"github.com/Cameron64/HoneyDo-sub002/internal/offline"
)

type addPayload struct {
	ListID string          `json:"listId"`
	TempID string          `json:"tempId"`
	Item   model.ItemInput `json:"item"`
}

type updatePayload struct {
	ListID string          `json:"listId"`
	ItemID string          `json:"itemId"`
	Patch  model.ItemPatch `json:"patch"`
}

type deletePayload struct {
	ListID  string   `json:"listId"`
	ItemIDs []string `json:"itemIds"`
}

type checkPayload struct {
	ListID  string   `json:"listId"`
	ItemIDs []string `json:"itemIds"`
	Checked bool     `json:"checked"`
}

type reorderPayload struct {
	ListID  string   `json:"listId"`
	ItemIDs []string `json:"itemIds"`
}

// resolve maps a temporary id to the server id it was created under.
func (a *Applier) resolve(id string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if real, ok := a.aliases[id]; ok {
		return real
	}
	return id
}

func (a *Applier) resolveAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = a.resolve(id)
	}
	return out
}

func (a *Applier) alias(tempID, realID string) {
	a.mu.Lock()
	a.aliases[tempID] = realID
	a.mu.Unlock()
}

// Replay re-issues a queued action. It implements offline.Replayer. The
// optimistic state was applied when the action was queued, so only the add
// touches the cache here, to swap its temporary id.
func (a *Applier) Replay(ctx context.Context, qa offline.QueuedAction) error {
	if a.opts.Context != nil {
		ctx = a.opts.Context(ctx, qa)
	}

	switch qa.Type {
	case offline.ActionAdd:
		var p addPayload
		if err := offline.DecodePayload(qa, &p); err != nil {
			return err
		}
		it, err := a.api.AddItem(ctx, p.ListID, p.Item)
		if err != nil {
			return err
		}
		if p.TempID != "" {
			a.alias(p.TempID, it.ID)
			a.confirmAdd(p.ListID, p.TempID, it, true)
		}
		return nil

	case offline.ActionUpdate:
		var p updatePayload
		if err := offline.DecodePayload(qa, &p); err != nil {
			return err
		}
		_, err := a.api.UpdateItem(ctx, a.resolve(p.ItemID), p.Patch)
		return err

	case offline.ActionDelete:
		var p deletePayload
		if err := offline.DecodePayload(qa, &p); err != nil {
			return err
		}
		var errs error
		for _, id := range a.resolveAll(p.ItemIDs) {
			if err := a.api.RemoveItem(ctx, id); err != nil {
				if a.stopReplay(ctx, err) {
					return err
				}
				errs = errors.Join(errs, err)
			}
		}
		return errs

	case offline.ActionCheck:
		var p checkPayload
		if err := offline.DecodePayload(qa, &p); err != nil {
			return err
		}
		ids := a.resolveAll(p.ItemIDs)
		if len(ids) == 1 {
			_, err := a.api.CheckItem(ctx, ids[0], p.Checked)
			return err
		}
		_, err := a.api.CheckItems(ctx, ids, p.Checked)
		return err

	case offline.ActionReorder:
		var p reorderPayload
		if err := offline.DecodePayload(qa, &p); err != nil {
			return err
		}
		return a.api.ReorderItems(ctx, p.ListID, a.resolveAll(p.ItemIDs))
	}
	return fmt.Errorf("replay %s: unknown action type %q", qa.ID, qa.Type)
}

// stopReplay reports whether a multi-request replay should stop early
// instead of moving on to its next request.
func (a *Applier) stopReplay(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return a.opts.Retryable != nil && a.opts.Retryable(err)
}
