package engine

import (
	"context"
	"time"

	"guardline/internal/engine/access"
	"guardline/internal/repo"
	"guardline/internal/timeline"
)

// TimelineOptions select and bound the rendered lifecycle view.
type TimelineOptions struct {
	RecordID string
	// Types and Categories, when non-empty, replace the default
	// category-seeded selection. Categories expand to their member types;
	// IncludeOther adds the record's unmapped types.
	Types        []string
	Categories   []string
	IncludeOther bool
	NoSelection  bool
	From         *time.Time
	To           *time.Time
	Actor        access.Actor
}

// Timeline assembles the filtered, annotated lifecycle view for a record.
func (e Engine) Timeline(ctx context.Context, opts TimelineOptions) (timeline.ViewModel, error) {
	rec, err := e.Repo.GetRecord(ctx, opts.RecordID)
	if err != nil {
		return timeline.ViewModel{}, err
	}
	if rec.TenantID != opts.Actor.TenantID && !opts.Actor.AdminView() {
		return timeline.ViewModel{}, repo.ErrNotFound
	}
	evs, err := e.Repo.ListEvents(ctx, rec.ID)
	if err != nil {
		return timeline.ViewModel{}, err
	}
	instructions, err := e.Repo.ListInstructions(ctx, rec.ID)
	if err != nil {
		return timeline.ViewModel{}, err
	}
	grace, err := e.graceActive(ctx, rec.TenantID)
	if err != nil {
		return timeline.ViewModel{}, err
	}

	fs := timeline.NewFilterState(evs)
	selected := append([]string{}, opts.Types...)
	for _, cat := range opts.Categories {
		selected = append(selected, timeline.Categories[cat]...)
	}
	if opts.IncludeOther {
		for _, t := range fs.AvailableTypes() {
			if !timeline.IsMapped(t) {
				selected = append(selected, t)
			}
		}
	}
	if opts.NoSelection {
		fs.ClearAll()
	} else if len(selected) > 0 {
		fs.Selection = timeline.SelectionOf(selected...)
	}
	fs.SetDateRange(opts.From, opts.To)

	tctx := timeline.Context{
		AdminView:       opts.Actor.AdminView(),
		GracePeriod:     grace,
		Thresholds:      e.Repo.Thresholds(ctx, rec.TenantID, e.Config.Thresholds()),
		CanSendReminder: opts.Actor.CanSendReminder(),
		Now:             e.now(),
	}
	return timeline.Compute(evs, instructions, fs, tctx), nil
}
