package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"guardline/internal/engine"
	"guardline/internal/timeline"
)

type timelineInput struct {
	ID string `path:"id"`
	// Types narrows the selection to the given action types; category
	// selects whole categories by name and other adds the unmapped types.
	// Omitting all of them keeps the default category seeding; all=true
	// clears the selection entirely and shows every event.
	Types      []string `query:"types"`
	Categories []string `query:"category"`
	Other      bool     `query:"other"`
	All        bool     `query:"all"`
	From       string   `query:"from" format:"date"`
	To         string   `query:"to" format:"date"`
}

type timelineOutput struct {
	Body timeline.ViewModel
}

func parseDay(s string) (*time.Time, huma.StatusError) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid date: "+s, nil)
}

func registerTimeline(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "record-timeline",
		Method:      http.MethodGet,
		Path:        "/records/{id}/timeline",
		Summary:     "Filtered lifecycle timeline for a record",
	}, func(ctx context.Context, in *timelineInput) (*timelineOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		from, herr := parseDay(in.From)
		if herr != nil {
			return nil, herr
		}
		to, herr := parseDay(in.To)
		if herr != nil {
			return nil, herr
		}
		vm, err := eng.Timeline(ctx, engine.TimelineOptions{
			RecordID:     in.ID,
			Types:        in.Types,
			Categories:   in.Categories,
			IncludeOther: in.Other,
			NoSelection:  in.All,
			From:         from,
			To:           to,
			Actor:        actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &timelineOutput{Body: vm}, nil
	})

	type categoriesOutput struct {
		Body struct {
			Order      []string            `json:"order"`
			Categories map[string][]string `json:"categories"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "timeline-categories",
		Method:      http.MethodGet,
		Path:        "/timeline/categories",
		Summary:     "Action-type taxonomy",
	}, func(ctx context.Context, _ *struct{}) (*categoriesOutput, error) {
		out := &categoriesOutput{}
		out.Body.Order = timeline.CategoryOrder
		out.Body.Categories = timeline.Categories
		return out, nil
	})
}
