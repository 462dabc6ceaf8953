package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"guardline/internal/domain"
	"guardline/internal/engine"
)

type approvalOutput struct {
	Body domain.ApprovalRequest
}

func registerApprovals(api huma.API, eng engine.Engine) {
	type submitInput struct {
		Body struct {
			RecordID   string `json:"record_id" minLength:"1"`
			ActionType string `json:"action_type" minLength:"1"`
			Payload    string `json:"payload,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "submit-approval",
		Method:      http.MethodPost,
		Path:        "/approvals",
		Summary:     "Submit a maker-checker request",
	}, func(ctx context.Context, in *submitInput) (*approvalOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		ar, err := eng.SubmitApproval(ctx, in.Body.RecordID, in.Body.ActionType, in.Body.Payload, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &approvalOutput{Body: ar}, nil
	})

	type listInput struct {
		Status string `query:"status" enum:"pending,approved,rejected,withdrawn"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/approvals",
		Summary:     "List the tenant's approval requests",
	}, func(ctx context.Context, in *listInput) (*struct {
		Body struct {
			Approvals []domain.ApprovalRequest `json:"approvals"`
		}
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		approvals, err := eng.Repo.ListApprovals(ctx, actor.TenantID, in.Status)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Approvals []domain.ApprovalRequest `json:"approvals"`
			}
		}{}
		out.Body.Approvals = approvals
		return out, nil
	})

	type decideInput struct {
		ID   string `path:"id"`
		Body struct {
			Approve bool   `json:"approve"`
			Reason  string `json:"reason,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "decide-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{id}/decide",
		Summary:     "Approve or reject a pending request",
	}, func(ctx context.Context, in *decideInput) (*approvalOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		ar, err := eng.DecideApproval(ctx, in.ID, in.Body.Approve, in.Body.Reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &approvalOutput{Body: ar}, nil
	})

	type withdrawInput struct {
		ID string `path:"id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "withdraw-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{id}/withdraw",
		Summary:     "Withdraw a pending request",
	}, func(ctx context.Context, in *withdrawInput) (*approvalOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		ar, err := eng.WithdrawApproval(ctx, in.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &approvalOutput{Body: ar}, nil
	})
}
