package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"guardline/internal/domain"
	"guardline/internal/engine"
	"guardline/internal/engine/access"
	"guardline/internal/repo"
)

func requireAdmin(ctx context.Context) (access.Actor, huma.StatusError) {
	actor, herr := actorFromContext(ctx)
	if herr != nil {
		return actor, herr
	}
	if !actor.AdminView() {
		return actor, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
	}
	return actor, nil
}

func registerAdmin(api huma.API, eng engine.Engine) {
	type createTenantInput struct {
		Body struct {
			ID         string `json:"id,omitempty"`
			Name       string `json:"name" minLength:"1"`
			AdminEmail string `json:"admin_email,omitempty" format:"email"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "create-tenant",
		Method:      http.MethodPost,
		Path:        "/tenants",
		Summary:     "Register a tenant",
	}, func(ctx context.Context, in *createTenantInput) (*struct{ Body domain.Tenant }, error) {
		if _, herr := requireAdmin(ctx); herr != nil {
			return nil, herr
		}
		t, err := eng.CreateTenant(ctx, in.Body.ID, in.Body.Name, in.Body.AdminEmail)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Tenant }{Body: t}, nil
	})

	type tenantStatusInput struct {
		ID   string `path:"id"`
		Body struct {
			Status          string  `json:"status" enum:"active,grace,expired"`
			SubscriptionEnd *string `json:"subscription_end,omitempty" format:"date-time"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "set-tenant-status",
		Method:      http.MethodPut,
		Path:        "/tenants/{id}/status",
		Summary:     "Move a tenant between active, grace and expired",
	}, func(ctx context.Context, in *tenantStatusInput) (*struct {
		Body struct {
			OK bool `json:"ok"`
		}
	}, error) {
		if _, herr := requireAdmin(ctx); herr != nil {
			return nil, herr
		}
		if err := eng.SetTenantStatus(ctx, in.ID, in.Body.Status, in.Body.SubscriptionEnd); err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				OK bool `json:"ok"`
			}
		}{}
		out.Body.OK = true
		return out, nil
	})

	type addActorInput struct {
		Body struct {
			Email    string `json:"email" format:"email"`
			TenantID string `json:"tenant_id" minLength:"1"`
			Role     string `json:"role" enum:"admin,maker,checker,viewer"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "add-actor",
		Method:      http.MethodPost,
		Path:        "/actors",
		Summary:     "Grant a role within a tenant",
	}, func(ctx context.Context, in *addActorInput) (*struct {
		Body struct {
			OK bool `json:"ok"`
		}
	}, error) {
		if _, herr := requireAdmin(ctx); herr != nil {
			return nil, herr
		}
		if err := eng.AddActor(ctx, in.Body.Email, in.Body.TenantID, in.Body.Role); err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				OK bool `json:"ok"`
			}
		}{}
		out.Body.OK = true
		return out, nil
	})

	type createKeyInput struct {
		Body struct {
			ActorEmail string `json:"actor_email" format:"email"`
			Name       string `json:"name,omitempty"`
		}
	}
	type createKeyOutput struct {
		Body struct {
			Key       domain.APIKey `json:"key"`
			Plaintext string        `json:"plaintext"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "create-api-key",
		Method:      http.MethodPost,
		Path:        "/apikeys",
		Summary:     "Mint an API key; the plaintext is returned once",
	}, func(ctx context.Context, in *createKeyInput) (*createKeyOutput, error) {
		if _, herr := requireAdmin(ctx); herr != nil {
			return nil, herr
		}
		key, plaintext, err := eng.CreateAPIKey(ctx, in.Body.ActorEmail, in.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		out := &createKeyOutput{}
		out.Body.Key = key
		out.Body.Plaintext = plaintext
		return out, nil
	})

	type settingInput struct {
		Body struct {
			Key   string `json:"key" minLength:"1"`
			Value string `json:"value" minLength:"1"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "set-tenant-setting",
		Method:      http.MethodPut,
		Path:        "/settings",
		Summary:     "Override a reminder threshold for the caller's tenant",
	}, func(ctx context.Context, in *settingInput) (*struct {
		Body struct {
			OK bool `json:"ok"`
		}
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := access.Require(actor.CanDecide() || actor.AdminView(), "settings.write"); err != nil {
			return nil, handleError(err)
		}
		if err := eng.Repo.SetSetting(ctx, actor.TenantID, in.Body.Key, in.Body.Value); err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				OK bool `json:"ok"`
			}
		}{}
		out.Body.OK = true
		return out, nil
	})

	type thresholdsOutput struct {
		Body struct {
			DaysSinceDelivery    int `json:"days_since_delivery"`
			DaysSinceIssuance    int `json:"days_since_issuance"`
			MaxDaysSinceIssuance int `json:"max_days_since_issuance"`
			CancellationHours    int `json:"cancellation_window_hours"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-tenant-settings",
		Method:      http.MethodGet,
		Path:        "/settings",
		Summary:     "Effective reminder thresholds for the caller's tenant",
	}, func(ctx context.Context, _ *struct{}) (*thresholdsOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		th := eng.Repo.Thresholds(ctx, actor.TenantID, eng.Config.Thresholds())
		out := &thresholdsOutput{}
		out.Body.DaysSinceDelivery = th.DaysSinceDelivery
		out.Body.DaysSinceIssuance = th.DaysSinceIssuance
		out.Body.MaxDaysSinceIssuance = th.MaxDaysSinceIssuance
		out.Body.CancellationHours = int(eng.CancellationWindow().Hours())
		return out, nil
	})

	type createWebhookInput struct {
		Body struct {
			URL    string   `json:"url" format:"uri"`
			Secret string   `json:"secret,omitempty"`
			Events []string `json:"events,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "create-webhook",
		Method:      http.MethodPost,
		Path:        "/webhooks",
		Summary:     "Subscribe a webhook to the tenant's lifecycle events",
	}, func(ctx context.Context, in *createWebhookInput) (*struct{ Body repo.Subscription }, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := access.Require(actor.CanDecide() || actor.AdminView(), "webhooks.write"); err != nil {
			return nil, handleError(err)
		}
		sub := repo.Subscription{
			ID:        uuid.NewString(),
			TenantID:  actor.TenantID,
			URL:       in.Body.URL,
			Secret:    in.Body.Secret,
			Events:    in.Body.Events,
			Enabled:   true,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := eng.Repo.InsertSubscription(ctx, sub); err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body repo.Subscription }{Body: sub}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-webhooks",
		Method:      http.MethodGet,
		Path:        "/webhooks",
		Summary:     "List the tenant's webhook subscriptions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Webhooks []repo.Subscription `json:"webhooks"`
		}
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		subs, err := eng.Repo.ListSubscriptions(ctx, actor.TenantID, false)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Webhooks []repo.Subscription `json:"webhooks"`
			}
		}{}
		out.Body.Webhooks = subs
		return out, nil
	})

	type webhookIDInput struct {
		ID string `path:"id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "delete-webhook",
		Method:      http.MethodDelete,
		Path:        "/webhooks/{id}",
		Summary:     "Remove a webhook subscription",
	}, func(ctx context.Context, in *webhookIDInput) (*struct {
		Body struct {
			OK bool `json:"ok"`
		}
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := access.Require(actor.CanDecide() || actor.AdminView(), "webhooks.write"); err != nil {
			return nil, handleError(err)
		}
		subs, err := eng.Repo.ListSubscriptions(ctx, actor.TenantID, false)
		if err != nil {
			return nil, handleError(err)
		}
		owned := false
		for _, sub := range subs {
			if sub.ID == in.ID {
				owned = true
				break
			}
		}
		if !owned && !actor.AdminView() {
			return nil, handleError(repo.ErrNotFound)
		}
		if err := eng.Repo.DeleteSubscription(ctx, in.ID); err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				OK bool `json:"ok"`
			}
		}{}
		out.Body.OK = true
		return out, nil
	})
}
