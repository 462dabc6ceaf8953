package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"guardline/internal/domain"
	"guardline/internal/engine"
	"guardline/internal/repo"
)

type recordOutput struct {
	Body domain.LGRecord
}

type instructionOutput struct {
	Body domain.Instruction
}

type createRecordInput struct {
	Body struct {
		LGNumber     string  `json:"lg_number" minLength:"1"`
		LGType       string  `json:"lg_type,omitempty"`
		Beneficiary  string  `json:"beneficiary" minLength:"1"`
		IssuingBank  string  `json:"issuing_bank,omitempty"`
		Currency     string  `json:"currency" minLength:"3" maxLength:"3"`
		Amount       float64 `json:"amount" exclusiveMinimum:"0"`
		IssuanceDate string  `json:"issuance_date,omitempty" format:"date-time"`
		ExpiryDate   string  `json:"expiry_date" format:"date-time"`
	}
}

type RecordIDInput struct {
	ID string `path:"id"`
}

func registerRecords(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-record",
		Method:      http.MethodPost,
		Path:        "/records",
		Summary:     "Register a letter of guarantee",
	}, func(ctx context.Context, in *createRecordInput) (*recordOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		rec, err := eng.CreateRecord(ctx, engine.RecordCreateOptions{
			TenantID:     actor.TenantID,
			LGNumber:     in.Body.LGNumber,
			LGType:       in.Body.LGType,
			Beneficiary:  in.Body.Beneficiary,
			IssuingBank:  in.Body.IssuingBank,
			Currency:     in.Body.Currency,
			Amount:       in.Body.Amount,
			IssuanceDate: in.Body.IssuanceDate,
			ExpiryDate:   in.Body.ExpiryDate,
			Actor:        actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &recordOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/records",
		Summary:     "List the tenant's records",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Records []domain.LGRecord `json:"records"`
		}
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		records, err := eng.Repo.ListRecords(ctx, actor.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Records []domain.LGRecord `json:"records"`
			}
		}{}
		out.Body.Records = records
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/records/{id}",
		Summary:     "Fetch one record",
	}, func(ctx context.Context, in *RecordIDInput) (*recordOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		rec, err := eng.Repo.GetRecord(ctx, in.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if rec.TenantID != actor.TenantID && !actor.AdminView() {
			return nil, handleError(repo.ErrNotFound)
		}
		return &recordOutput{Body: rec}, nil
	})

	type extendInput struct {
		RecordIDInput
		Body struct {
			NewExpiryDate string `json:"new_expiry_date" format:"date-time"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "extend-record",
		Method:      http.MethodPost,
		Path:        "/records/{id}/extend",
		Summary:     "Extend the expiry date",
	}, func(ctx context.Context, in *extendInput) (*instructionOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		inst, err := eng.ExtendRecord(ctx, in.ID, in.Body.NewExpiryDate, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &instructionOutput{Body: inst}, nil
	})

	type amendInput struct {
		RecordIDInput
		Body struct {
			Changes map[string]engine.FieldChange `json:"changes"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "amend-record",
		Method:      http.MethodPost,
		Path:        "/records/{id}/amend",
		Summary:     "Amend record fields",
	}, func(ctx context.Context, in *amendInput) (*instructionOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		inst, err := eng.AmendRecord(ctx, in.ID, in.Body.Changes, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &instructionOutput{Body: inst}, nil
	})

	type releaseInput struct {
		RecordIDInput
		Body struct {
			Reason string `json:"reason,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "release-record",
		Method:      http.MethodPost,
		Path:        "/records/{id}/release",
		Summary:     "Release the guarantee",
	}, func(ctx context.Context, in *releaseInput) (*instructionOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		inst, err := eng.ReleaseRecord(ctx, in.ID, in.Body.Reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &instructionOutput{Body: inst}, nil
	})

	type liquidateInput struct {
		RecordIDInput
		Body struct {
			Amount float64 `json:"amount" exclusiveMinimum:"0"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "liquidate-record",
		Method:      http.MethodPost,
		Path:        "/records/{id}/liquidate",
		Summary:     "Liquidate fully or partially",
	}, func(ctx context.Context, in *liquidateInput) (*instructionOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		inst, err := eng.LiquidateRecord(ctx, in.ID, in.Body.Amount, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &instructionOutput{Body: inst}, nil
	})

	type decreaseInput struct {
		RecordIDInput
		Body struct {
			NewAmount float64 `json:"new_amount" exclusiveMinimum:"0"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "decrease-record-amount",
		Method:      http.MethodPost,
		Path:        "/records/{id}/decrease",
		Summary:     "Decrease the guaranteed amount",
	}, func(ctx context.Context, in *decreaseInput) (*instructionOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		inst, err := eng.DecreaseAmount(ctx, in.ID, in.Body.NewAmount, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &instructionOutput{Body: inst}, nil
	})

	type activateInput struct {
		RecordIDInput
		Body struct {
			PaymentReference string `json:"payment_reference" minLength:"1"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "activate-record",
		Method:      http.MethodPost,
		Path:        "/records/{id}/activate",
		Summary:     "Activate a non-operative guarantee",
	}, func(ctx context.Context, in *activateInput) (*instructionOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		inst, err := eng.ActivateNonOperative(ctx, in.ID, in.Body.PaymentReference, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &instructionOutput{Body: inst}, nil
	})
}
