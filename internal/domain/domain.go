package domain

// Tenant is a customer organization holding LG records. Status moves to
// "grace" when the subscription lapses; mutating instruction actions are
// disabled platform-wide while a tenant is in grace.
type Tenant struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Status          string `json:"status" enum:"active,grace,expired"`
	SubscriptionEnd string `json:"subscription_end,omitempty" format:"date-time"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// LGRecord is a Letter of Guarantee under management.
type LGRecord struct {
	ID           string  `json:"id"`
	TenantID     string  `json:"tenant_id"`
	LGNumber     string  `json:"lg_number"`
	LGType       string  `json:"lg_type,omitempty"`
	Beneficiary  string  `json:"beneficiary"`
	IssuingBank  string  `json:"issuing_bank,omitempty"`
	Currency     string  `json:"currency"`
	Amount       float64 `json:"amount"`
	IssuanceDate string  `json:"issuance_date" format:"date-time"`
	ExpiryDate   string  `json:"expiry_date" format:"date-time"`
	Status       string  `json:"status" enum:"valid,released,liquidated,expired"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// Instruction is a discrete action issued against an LG record. IDs are
// integer by contract: action gating only ever applies to instructions with
// a real database id, never to synthetic references.
type Instruction struct {
	ID                   int64   `json:"id"`
	RecordID             string  `json:"record_id"`
	InstructionType      string  `json:"instruction_type"`
	Serial               string  `json:"serial,omitempty"`
	Status               string  `json:"status"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	DeliveryDate         *string `json:"delivery_date,omitempty" format:"date-time"`
	BankReplyDate        *string `json:"bank_reply_date,omitempty" format:"date-time"`
	HasReminderSent      bool    `json:"has_reminder_sent"`
	GeneratedContentPath *string `json:"generated_content_path,omitempty"`
}

// Instruction types.
const (
	InstrExtension            = "LG_EXTENSION"
	InstrAmendment            = "LG_AMENDMENT"
	InstrRelease              = "LG_RELEASE"
	InstrLiquidation          = "LG_LIQUIDATION"
	InstrDecreaseAmount       = "LG_DECREASE_AMOUNT"
	InstrActivateNonOperative = "LG_ACTIVATE_NON_OPERATIVE"
	InstrReminderToBanks      = "LG_REMINDER_TO_BANKS"
)

// Instruction statuses.
const (
	StatusInstructionIssued    = "Instruction Issued"
	StatusReminderIssued       = "Reminder Issued"
	StatusInstructionCancelled = "Instruction Cancelled"
	StatusDeliveryConfirmed    = "Delivery Confirmed"
	StatusBankReplyReceived    = "Bank Reply Received"
)

// LifecycleEvent is one entry in a record's audit timeline. Details is an
// opaque JSON object whose shape varies per action type; an empty UserEmail
// renders as "System".
type LifecycleEvent struct {
	ID         int64   `json:"id"`
	RecordID   string  `json:"record_id"`
	ActionType string  `json:"action_type"`
	TS         string  `json:"ts" format:"date-time"`
	UserEmail  *string `json:"user_email,omitempty"`
	EntityType *string `json:"entity_type,omitempty"`
	EntityID   *string `json:"entity_id,omitempty"`
	Details    string  `json:"details_json"`
}

// ApprovalRequest is a pending maker-checker item for a mutating record action.
type ApprovalRequest struct {
	ID          string  `json:"id"`
	RecordID    string  `json:"record_id"`
	TenantID    string  `json:"tenant_id"`
	ActionType  string  `json:"action_type"`
	Payload     string  `json:"payload,omitempty"`
	Status      string  `json:"status" enum:"pending,approved,rejected,withdrawn"`
	RequestedBy string  `json:"requested_by"`
	DecidedBy   *string `json:"decided_by,omitempty"`
	Reason      *string `json:"reason,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	DecidedAt   *string `json:"decided_at,omitempty" format:"date-time"`
}

// APIKey maps a hashed key to an actor email.
type APIKey struct {
	ID         string `json:"id"`
	ActorEmail string `json:"actor_email"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"key_hash"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}
