package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"paybook.org/internal/ledger"
)

// Client talks to a paybook API server over HTTP. It implements
// ledger.Service, so callers can swap it for the in-process ledger.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ ledger.Service = (*Client)(nil)

// New creates a client for the given base URL (e.g. http://localhost:8080).
// token is sent as a bearer credential on every request.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ObtainToken requests a token from the server's issuance endpoint and
// stores it on the client.
func (c *Client) ObtainToken(ctx context.Context, user string, roles []string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/auth/token", map[string]any{
		"user":  user,
		"roles": roles,
	}, nil, &resp)
	if err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

func (c *Client) CreateDocument(ctx context.Context, grandTotal ledger.Amount, dueDate time.Time) (ledger.Document, error) {
	body := map[string]any{"grand_total": int64(grandTotal)}
	if !dueDate.IsZero() {
		body["due_date"] = dueDate.UTC().Format(time.RFC3339)
	}
	var doc ledger.Document
	err := c.call(ctx, http.MethodPost, "/v1/documents", body, nil, &doc)
	return doc, err
}

func (c *Client) GetDocument(ctx context.Context, id string) (ledger.Document, error) {
	var doc ledger.Document
	err := c.call(ctx, http.MethodGet, "/v1/documents/"+url.PathEscape(id), nil, nil, &doc)
	return doc, err
}

func (c *Client) CancelDocument(ctx context.Context, id string, ifVersion uint64) (ledger.Document, error) {
	body := map[string]any{}
	if ifVersion != 0 {
		body["if_version"] = ifVersion
	}
	var doc ledger.Document
	err := c.call(ctx, http.MethodPost, "/v1/documents/"+url.PathEscape(id)+"/cancel", body, nil, &doc)
	return doc, err
}

func (c *Client) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	body := map[string]any{}
	if !asOf.IsZero() {
		body["as_of"] = asOf.UTC().Format(time.RFC3339)
	}
	var resp struct {
		Marked int `json:"marked"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/documents/overdue-sweep", body, nil, &resp)
	return resp.Marked, err
}

func (c *Client) ApplyPayment(ctx context.Context, in ledger.PaymentInput, idemKey string) (ledger.Payment, error) {
	body := map[string]any{
		"amount_paid": int64(in.AmountPaid),
	}
	if in.DocumentID != "" {
		body["document_id"] = in.DocumentID
	}
	if in.Kind != "" {
		body["kind"] = string(in.Kind)
	}
	if in.PaymentType != "" {
		body["payment_type"] = string(in.PaymentType)
	}
	if !in.Date.IsZero() {
		body["date"] = in.Date.UTC().Format(time.RFC3339)
	}
	if in.Method != "" {
		body["method"] = in.Method
	}
	if in.ReferenceNumber != "" {
		body["reference_number"] = in.ReferenceNumber
	}
	if in.BankAccount != "" {
		body["bank_account"] = in.BankAccount
	}
	var headers map[string]string
	if idemKey != "" {
		headers = map[string]string{"Idempotency-Key": idemKey}
	}
	var p ledger.Payment
	err := c.call(ctx, http.MethodPost, "/v1/payments", body, headers, &p)
	return p, err
}

func (c *Client) EditPayment(ctx context.Context, id string, newAmount ledger.Amount, ifVersion uint64) (ledger.Payment, error) {
	body := map[string]any{"amount_paid": int64(newAmount)}
	if ifVersion != 0 {
		body["if_version"] = ifVersion
	}
	var p ledger.Payment
	err := c.call(ctx, http.MethodPatch, "/v1/payments/"+url.PathEscape(id), body, nil, &p)
	return p, err
}

func (c *Client) ReversePayment(ctx context.Context, id string, ifVersion uint64) error {
	path := "/v1/payments/" + url.PathEscape(id)
	if ifVersion != 0 {
		path += "?if_version=" + strconv.FormatUint(ifVersion, 10)
	}
	return c.call(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) GetPayment(ctx context.Context, id string) (ledger.Payment, error) {
	var p ledger.Payment
	err := c.call(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, nil, &p)
	return p, err
}

func (c *Client) ListPayments(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Payment, uint64, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if afterSeq != 0 {
		q.Set("after", strconv.FormatUint(afterSeq, 10))
	}
	var resp struct {
		Items     []ledger.Payment `json:"items"`
		NextAfter uint64           `json:"next_after"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/payments?"+q.Encode(), nil, nil, &resp)
	if err != nil {
		return nil, 0, err
	}
	return resp.Items, resp.NextAfter, nil
}

func (c *Client) ToggleClearance(ctx context.Context, id string) (ledger.Payment, error) {
	var p ledger.Payment
	err := c.call(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(id)+"/clearance", nil, nil, &p)
	return p, err
}

// call performs one request and decodes the response into out (which may be
// nil for 204 responses). Error responses are mapped back onto the ledger
// sentinel errors so errors.Is works across the wire.
func (c *Client) call(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload)
	msg := payload.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, msg)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ledger.ErrOverpayment, msg)
	case http.StatusConflict:
		if strings.Contains(msg, "cancelled") {
			return fmt.Errorf("%w: %s", ledger.ErrDocumentCancelled, msg)
		}
		return fmt.Errorf("%w: %s", ledger.ErrStaleVersion, msg)
	case http.StatusBadRequest:
		if strings.Contains(msg, "amount") {
			return fmt.Errorf("%w: %s", ledger.ErrInvalidAmount, msg)
		}
		return fmt.Errorf("bad request: %s", msg)
	default:
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, msg)
	}
}
