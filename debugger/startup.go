package debugger

import (
	"context"
	"fmt"
	"time"

	"hard-bridge/filters"
	"hard-bridge/pattern"
)

// WaitForPulse retries CheckPulse every interval until the renderer answers
// or ctx is done.
func (c *Client) WaitForPulse(ctx context.Context, interval time.Duration) error {
	for attempt := 1; ; attempt++ {
		err := c.CheckPulse(ctx)
		if err == nil {
			c.log.Info("renderer pulse received", "attempts", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Debug("waiting for renderer pulse", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.cfg.Clock.After(interval):
		}
	}
}

// FiltersFromPipelines enables filtering and adds every resource used by the
// renderer's pipelines.
func (c *Client) FiltersFromPipelines(ctx context.Context, store *filters.Store) error {
	pipelines, err := c.ListPipelines(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pipelines: %w", err)
	}

	var bulk filters.BulkAdd
	for _, id := range pipelines.Value {
		res, err := c.QueryPipelineResources(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to query resources of pipeline %v: %w", id, err)
		}
		bulk.RenderTargets = appendLiterals(bulk.RenderTargets, res.Value.RenderTargets)
		bulk.Meshes = appendLiterals(bulk.Meshes, res.Value.Meshes)
		bulk.Images = appendLiterals(bulk.Images, res.Value.Images)
		for _, m := range res.Value.Materials {
			bulk.Materials = append(bulk.Materials, pattern.FromValue(m.Filter()))
		}
	}

	store.Dispatch(filters.Enable{Mode: true})
	state := store.Dispatch(bulk)
	c.log.Info("filters set from pipelines",
		"pipelines", len(pipelines.Value),
		"render_targets", len(state.RenderTargets),
		"meshes", len(state.Meshes),
		"images", len(state.Images),
		"materials", len(state.Materials),
	)
	return nil
}

func appendLiterals(list []pattern.Pattern, values []any) []pattern.Pattern {
	for _, v := range values {
		list = append(list, pattern.FromValue(v))
	}
	return list
}
