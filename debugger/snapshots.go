package debugger

import (
	"context"
	"fmt"

	"hard-bridge/protocol"
	"hard-bridge/snapshot"
)

// TakeSnapshot asks the renderer for its full state and returns the recorded snapshot.
func (c *Client) TakeSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	p, err := c.cfg.Bridge.Request(ctx, protocol.KindTakeSnapshot, nil, hasPayload)
	if err != nil {
		return nil, err
	}
	ev, err := p.Wait(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := c.store.Get(ev.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotRecorded, ev.ID)
	}
	return s, nil
}

// ActivateSnapshot makes id the snapshot that answers queries.
func (c *Client) ActivateSnapshot(id string) error {
	if err := c.store.Activate(id); err != nil {
		return fmt.Errorf("failed to activate snapshot %s: %w", id, err)
	}
	return c.notifySnapshotChanged()
}

// DeactivateSnapshot sends subsequent queries to the renderer again.
func (c *Client) DeactivateSnapshot() error {
	c.store.Deactivate()
	return c.notifySnapshotChanged()
}

func (c *Client) DeleteSnapshot(id string) error {
	active, wasActive := c.store.Active()
	if err := c.store.Delete(id); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	if wasActive && active.ID == id {
		return c.notifySnapshotChanged()
	}
	return nil
}

func (c *Client) DeleteAllSnapshots() error {
	_, wasActive := c.store.Active()
	c.store.DeleteAll()
	if wasActive {
		return c.notifySnapshotChanged()
	}
	return nil
}

// notifySnapshotChanged raises a local SnapshotChanged event carrying the
// active snapshot data, or no payload when none is active.
func (c *Client) notifySnapshotChanged() error {
	if s, ok := c.store.Active(); ok {
		c.log.Info("snapshot activated", "id", s.ID)
		return c.cfg.Bridge.Provide(protocol.KindSnapshotChanged, s.Data, s.Binary)
	}
	c.log.Info("snapshot deactivated")
	return c.cfg.Bridge.Provide(protocol.KindSnapshotChanged, nil, nil)
}
