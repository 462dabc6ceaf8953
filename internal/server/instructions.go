package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"guardline/internal/domain"
	"guardline/internal/engine"
	"guardline/internal/repo"
)

type InstructionIDInput struct {
	ID int64 `path:"id" minimum:"1"`
}

func registerInstructions(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-record-instructions",
		Method:      http.MethodGet,
		Path:        "/records/{id}/instructions",
		Summary:     "List a record's instructions",
	}, func(ctx context.Context, in *RecordIDInput) (*struct {
		Body struct {
			Instructions []domain.Instruction `json:"instructions"`
		}
	}, error) {
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
		instructions, err := eng.Repo.ListInstructions(ctx, rec.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Instructions []domain.Instruction `json:"instructions"`
			}
		}{}
		out.Body.Instructions = instructions
		return out, nil
	})

	type deliveryInput struct {
		InstructionIDInput
		Body struct {
			DeliveryDate   string `json:"delivery_date,omitempty" format:"date-time"`
			DeliveryMethod string `json:"delivery_method,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "record-delivery",
		Method:      http.MethodPost,
		Path:        "/instructions/{id}/delivery",
		Summary:     "Record instruction delivery",
	}, func(ctx context.Context, in *deliveryInput) (*instructionOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		inst, err := eng.RecordDelivery(ctx, in.ID, in.Body.DeliveryDate, in.Body.DeliveryMethod, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &instructionOutput{Body: inst}, nil
	})

	type bankReplyInput struct {
		InstructionIDInput
		Body struct {
			BankReplyDate string `json:"bank_reply_date,omitempty" format:"date-time"`
			Notes         string `json:"notes,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "record-bank-reply",
		Method:      http.MethodPost,
		Path:        "/instructions/{id}/bank-reply",
		Summary:     "Record the bank's reply",
	}, func(ctx context.Context, in *bankReplyInput) (*instructionOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		inst, err := eng.RecordBankReply(ctx, in.ID, in.Body.BankReplyDate, in.Body.Notes, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &instructionOutput{Body: inst}, nil
	})

	type reminderInput struct {
		InstructionIDInput
		Body struct {
			BankName string `json:"bank_name,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "send-reminder",
		Method:      http.MethodPost,
		Path:        "/instructions/{id}/reminder",
		Summary:     "Send a reminder to the bank",
	}, func(ctx context.Context, in *reminderInput) (*instructionOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		inst, err := eng.SendReminder(ctx, in.ID, in.Body.BankName, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &instructionOutput{Body: inst}, nil
	})

	type cancelInput struct {
		InstructionIDInput
		Body struct {
			Reason string `json:"reason,omitempty"`
		}
	}
	type cancelOutput struct {
		Body struct {
			Instruction domain.Instruction `json:"instruction"`
			Countdown   string             `json:"countdown" example:"0h 0m 0s"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "cancel-instruction",
		Method:      http.MethodPost,
		Path:        "/instructions/{id}/cancel",
		Summary:     "Cancel the latest instruction",
	}, func(ctx context.Context, in *cancelInput) (*cancelOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		inst, err := eng.CancelInstruction(ctx, in.ID, in.Body.Reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		out := &cancelOutput{}
		out.Body.Instruction = inst
		out.Body.Countdown = eng.CancelCountdown(inst)
		return out, nil
	})
}
