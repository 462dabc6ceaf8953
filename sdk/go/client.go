package guardlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Guardline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Record represents the API LG record model.
type Record struct {
	ID           string  `json:"id"`
	TenantID     string  `json:"tenant_id"`
	LGNumber     string  `json:"lg_number"`
	LGType       string  `json:"lg_type,omitempty"`
	Beneficiary  string  `json:"beneficiary"`
	IssuingBank  string  `json:"issuing_bank,omitempty"`
	Currency     string  `json:"currency"`
	Amount       float64 `json:"amount"`
	IssuanceDate string  `json:"issuance_date"`
	ExpiryDate   string  `json:"expiry_date"`
	Status       string  `json:"status"`
}

// Instruction represents a bank instruction issued against a record.
type Instruction struct {
	ID              int64   `json:"id"`
	RecordID        string  `json:"record_id"`
	InstructionType string  `json:"instruction_type"`
	Serial          string  `json:"serial"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
	DeliveryDate    *string `json:"delivery_date,omitempty"`
	BankReplyDate   *string `json:"bank_reply_date,omitempty"`
	HasReminderSent bool    `json:"has_reminder_sent"`
}

// TimelineEntry is one annotated timeline row.
type TimelineEntry struct {
	Event         map[string]any `json:"event"`
	Actor         string         `json:"actor"`
	Style         map[string]any `json:"style"`
	Summary       string         `json:"summary"`
	InstructionID *int64         `json:"instruction_id,omitempty"`
	Actions       map[string]any `json:"actions"`
}

// Timeline is the filtered view of a record's lifecycle.
type Timeline struct {
	Entries           []TimelineEntry `json:"entries"`
	AvailableTypes    []string        `json:"available_types"`
	ActiveFilterCount int             `json:"active_filter_count"`
}

// Approval represents a maker-checker request.
type Approval struct {
	ID          string  `json:"id"`
	RecordID    string  `json:"record_id"`
	TenantID    string  `json:"tenant_id"`
	ActionType  string  `json:"action_type"`
	Status      string  `json:"status"`
	RequestedBy string  `json:"requested_by"`
	DecidedBy   *string `json:"decided_by,omitempty"`
	Reason      *string `json:"reason,omitempty"`
	CreatedAt   string  `json:"created_at"`
	DecidedAt   *string `json:"decided_at,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRecordOptions are the fields accepted when registering a record.
type CreateRecordOptions struct {
	LGNumber     string  `json:"lg_number"`
	LGType       string  `json:"lg_type,omitempty"`
	Beneficiary  string  `json:"beneficiary"`
	IssuingBank  string  `json:"issuing_bank,omitempty"`
	Currency     string  `json:"currency"`
	Amount       float64 `json:"amount"`
	IssuanceDate string  `json:"issuance_date,omitempty"`
	ExpiryDate   string  `json:"expiry_date"`
}

// CreateRecord registers a letter of guarantee.
func (c *Client) CreateRecord(ctx context.Context, opts CreateRecordOptions) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodPost, "v1/records", opts, &resp)
	return resp, err
}

// ListRecords returns the tenant's records.
func (c *Client) ListRecords(ctx context.Context) ([]Record, error) {
	var resp struct {
		Records []Record `json:"records"`
	}
	err := c.do(ctx, http.MethodGet, "v1/records", nil, &resp)
	return resp.Records, err
}

// GetRecord fetches one record by id.
func (c *Client) GetRecord(ctx context.Context, id string) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodGet, recordPath(id, ""), nil, &resp)
	return resp, err
}

// ExtendRecord moves the expiry date forward.
func (c *Client) ExtendRecord(ctx context.Context, id, newExpiryDate string) (Instruction, error) {
	body := map[string]any{"new_expiry_date": newExpiryDate}
	var resp Instruction
	err := c.do(ctx, http.MethodPost, recordPath(id, "extend"), body, &resp)
	return resp, err
}

// FieldChange is one before/after pair in an amendment.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// AmendRecord applies field-level changes.
func (c *Client) AmendRecord(ctx context.Context, id string, changes map[string]FieldChange) (Instruction, error) {
	body := map[string]any{"changes": changes}
	var resp Instruction
	err := c.do(ctx, http.MethodPost, recordPath(id, "amend"), body, &resp)
	return resp, err
}

// ReleaseRecord terminates the guarantee.
func (c *Client) ReleaseRecord(ctx context.Context, id, reason string) (Instruction, error) {
	body := map[string]any{"reason": reason}
	var resp Instruction
	err := c.do(ctx, http.MethodPost, recordPath(id, "release"), body, &resp)
	return resp, err
}

// LiquidateRecord calls the guarantee, fully or partially.
func (c *Client) LiquidateRecord(ctx context.Context, id string, amount float64) (Instruction, error) {
	body := map[string]any{"amount": amount}
	var resp Instruction
	err := c.do(ctx, http.MethodPost, recordPath(id, "liquidate"), body, &resp)
	return resp, err
}

// DecreaseAmount lowers the guaranteed amount without liquidating.
func (c *Client) DecreaseAmount(ctx context.Context, id string, newAmount float64) (Instruction, error) {
	body := map[string]any{"new_amount": newAmount}
	var resp Instruction
	err := c.do(ctx, http.MethodPost, recordPath(id, "decrease"), body, &resp)
	return resp, err
}

// ActivateRecord turns a non-operative guarantee operative.
func (c *Client) ActivateRecord(ctx context.Context, id, paymentReference string) (Instruction, error) {
	body := map[string]any{"payment_reference": paymentReference}
	var resp Instruction
	err := c.do(ctx, http.MethodPost, recordPath(id, "activate"), body, &resp)
	return resp, err
}

// ListInstructions returns a record's instructions.
func (c *Client) ListInstructions(ctx context.Context, recordID string) ([]Instruction, error) {
	var resp struct {
		Instructions []Instruction `json:"instructions"`
	}
	err := c.do(ctx, http.MethodGet, recordPath(recordID, "instructions"), nil, &resp)
	return resp.Instructions, err
}

// RecordDelivery stamps the delivery date on an instruction.
func (c *Client) RecordDelivery(ctx context.Context, id int64, deliveryDate, method string) (Instruction, error) {
	body := map[string]any{}
	if deliveryDate != "" {
		body["delivery_date"] = deliveryDate
	}
	if method != "" {
		body["delivery_method"] = method
	}
	var resp Instruction
	err := c.do(ctx, http.MethodPost, instructionPath(id, "delivery"), body, &resp)
	return resp, err
}

// RecordBankReply stamps the bank reply date on an instruction.
func (c *Client) RecordBankReply(ctx context.Context, id int64, replyDate, notes string) (Instruction, error) {
	body := map[string]any{}
	if replyDate != "" {
		body["bank_reply_date"] = replyDate
	}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Instruction
	err := c.do(ctx, http.MethodPost, instructionPath(id, "bank-reply"), body, &resp)
	return resp, err
}

// SendReminder issues a reminder-to-banks for an unanswered instruction.
func (c *Client) SendReminder(ctx context.Context, id int64, bankName string) (Instruction, error) {
	body := map[string]any{}
	if bankName != "" {
		body["bank_name"] = bankName
	}
	var resp Instruction
	err := c.do(ctx, http.MethodPost, instructionPath(id, "reminder"), body, &resp)
	return resp, err
}

// CancelResult is a cancelled instruction plus the remaining window.
type CancelResult struct {
	Instruction Instruction `json:"instruction"`
	Countdown   string      `json:"countdown"`
}

// CancelInstruction voids the latest cancellable instruction.
func (c *Client) CancelInstruction(ctx context.Context, id int64, reason string) (CancelResult, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	var resp CancelResult
	err := c.do(ctx, http.MethodPost, instructionPath(id, "cancel"), body, &resp)
	return resp, err
}

// TimelineOptions control the timeline query.
type TimelineOptions struct {
	// Types narrows the selection; All clears it and shows every event.
	Types []string
	All   bool
	From  string
	To    string
}

// RecordTimeline returns the filtered lifecycle timeline for a record.
func (c *Client) RecordTimeline(ctx context.Context, recordID string, opts TimelineOptions) (Timeline, error) {
	q := url.Values{}
	for _, t := range opts.Types {
		q.Add("types", t)
	}
	if opts.All {
		q.Set("all", "true")
	}
	if opts.From != "" {
		q.Set("from", opts.From)
	}
	if opts.To != "" {
		q.Set("to", opts.To)
	}
	endpoint := recordPath(recordID, "timeline")
	if encoded := q.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var resp Timeline
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitApproval opens a maker-checker request for a record action.
func (c *Client) SubmitApproval(ctx context.Context, recordID, actionType, payload string) (Approval, error) {
	body := map[string]any{
		"record_id":   recordID,
		"action_type": actionType,
	}
	if payload != "" {
		body["payload"] = payload
	}
	var resp Approval
	err := c.do(ctx, http.MethodPost, "v1/approvals", body, &resp)
	return resp, err
}

// ListApprovals returns the tenant's approval requests, optionally by status.
func (c *Client) ListApprovals(ctx context.Context, status string) ([]Approval, error) {
	endpoint := "v1/approvals"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Approvals []Approval `json:"approvals"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Approvals, err
}

// DecideApproval approves or rejects a pending request.
func (c *Client) DecideApproval(ctx context.Context, id string, approve bool, reason string) (Approval, error) {
	body := map[string]any{"approve": approve}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Approval
	endpoint := fmt.Sprintf("v1/approvals/%s/decide", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// WithdrawApproval pulls a still-pending request.
func (c *Client) WithdrawApproval(ctx context.Context, id string) (Approval, error) {
	var resp Approval
	endpoint := fmt.Sprintf("v1/approvals/%s/withdraw", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func recordPath(id, suffix string) string {
	p := fmt.Sprintf("v1/records/%s", url.PathEscape(id))
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func instructionPath(id int64, suffix string) string {
	return fmt.Sprintf("v1/instructions/%d/%s", id, suffix)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
