package timeline

// Event action types written by the engine. The set is open-ended: unknown
// codes coming from older deployments still classify into the Other bucket.
const (
	ActionCreated             = "LG_CREATED"
	ActionExtended            = "LG_EXTENDED"
	ActionAmended             = "LG_AMENDED"
	ActionReleased            = "LG_RELEASED"
	ActionLiquidated          = "LG_LIQUIDATED"
	ActionDecreasedAmount     = "LG_DECREASED_AMOUNT"
	ActionActivated           = "LG_ACTIVATED_NON_OPERATIVE"
	ActionDelivered           = "INSTRUCTION_DELIVERED"
	ActionBankReply           = "BANK_REPLY_RECORDED"
	ActionReminderSent        = "LG_REMINDER_SENT_TO_BANK"
	ActionRenewalReminder     = "RENEWAL_REMINDER_SENT"
	ActionInstructionCanceled = "INSTRUCTION_CANCELLED"
	ActionApprovalSubmitted   = "APPROVAL_REQUEST_SUBMITTED"
	ActionApprovalApproved    = "APPROVAL_REQUEST_APPROVED"
	ActionApprovalRejected    = "APPROVAL_REQUEST_REJECTED"
	ActionApprovalWithdrawn   = "APPROVAL_REQUEST_WITHDRAWN"
	ActionNotificationSent    = "NOTIFICATION_SENT"
	ActionEmailFailed         = "EMAIL_DELIVERY_FAILED"
	ActionMigrationRecorded   = "MIGRATION_RECORDED"
	ActionDocumentUploaded    = "DOCUMENT_UPLOADED"
)

// Category names. OtherUnmapped is synthetic: it exists only for filtering
// and never carries an icon or style of its own.
const (
	CategoryMilestones = "Core Milestones"
	CategoryLogistics  = "Logistics"
	CategoryApprovals  = "Approvals"
	CategorySystemLogs = "System Logs"
	OtherUnmapped      = "Other_Unmapped"
)

// Categories maps each named category to its member action types. A type
// belongs to at most one category; membership is exact string match.
var Categories = map[string][]string{
	CategoryMilestones: {
		ActionCreated,
		ActionExtended,
		ActionAmended,
		ActionReleased,
		ActionLiquidated,
		ActionDecreasedAmount,
		ActionActivated,
	},
	CategoryLogistics: {
		ActionDelivered,
		ActionBankReply,
		ActionReminderSent,
		ActionRenewalReminder,
		ActionInstructionCanceled,
	},
	CategoryApprovals: {
		ActionApprovalSubmitted,
		ActionApprovalApproved,
		ActionApprovalRejected,
		ActionApprovalWithdrawn,
	},
	CategorySystemLogs: {
		ActionNotificationSent,
		ActionEmailFailed,
		ActionMigrationRecorded,
	},
}

// CategoryOrder is the display order of the named categories.
var CategoryOrder = []string{CategoryMilestones, CategoryLogistics, CategoryApprovals, CategorySystemLogs}

var typeToCategory = func() map[string]string {
	m := make(map[string]string)
	for cat, types := range Categories {
		for _, t := range types {
			m[t] = cat
		}
	}
	return m
}()

// CategoryOf returns the named category for an action type, or OtherUnmapped
// when the type is absent from the taxonomy.
func CategoryOf(actionType string) string {
	if cat, ok := typeToCategory[actionType]; ok {
		return cat
	}
	return OtherUnmapped
}

// IsMapped reports whether the action type belongs to a named category.
func IsMapped(actionType string) bool {
	_, ok := typeToCategory[actionType]
	return ok
}
