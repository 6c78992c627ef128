package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paybook.org/internal/auth"
	"paybook.org/internal/events"
	"paybook.org/internal/ledger"
	"paybook.org/internal/obs"
)

type createDocumentRequest struct {
	GrandTotal int64  `json:"grand_total"`
	DueDate    string `json:"due_date,omitempty"` // RFC 3339, optional
}

type cancelDocumentRequest struct {
	IfVersion uint64 `json:"if_version,omitempty"`
}

type overdueSweepRequest struct {
	AsOf string `json:"as_of,omitempty"` // RFC 3339, defaults to now
}

type overdueSweepResponse struct {
	Marked int       `json:"marked"`
	AsOf   time.Time `json:"as_of"`
}

type applyPaymentRequest struct {
	DocumentID      string `json:"document_id,omitempty"`
	Kind            string `json:"kind,omitempty"`
	AmountPaid      int64  `json:"amount_paid"`
	PaymentType     string `json:"payment_type,omitempty"`
	Date            string `json:"date,omitempty"`
	Method          string `json:"method,omitempty"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	BankAccount     string `json:"bank_account,omitempty"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

type editPaymentRequest struct {
	AmountPaid int64  `json:"amount_paid"`
	IfVersion  uint64 `json:"if_version,omitempty"`
}

type listPaymentsResponse struct {
	Items     []ledger.Payment `json:"items"`
	NextAfter uint64           `json:"next_after"`
	AsOf      time.Time        `json:"as_of"`
}

func (a *API) handleDocumentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createDocument(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleDocumentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if path == "overdue-sweep" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.markOverdue(w, r)
		return
	}

	if strings.HasSuffix(path, "/cancel") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/cancel"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "document not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.cancelDocument(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getDocument(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handlePaymentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.applyPayment(w, r)
	case http.MethodGet:
		a.listPayments(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handlePaymentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/clearance") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/clearance"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "payment not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.toggleClearance(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getPayment(w, r, path)
	case http.MethodPatch:
		a.editPayment(w, r, path)
	case http.MethodDelete:
		a.reversePayment(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) createDocument(w http.ResponseWriter, r *http.Request) {
	if err := a.requireCapability(r, auth.CapDocumentCreate); err != nil {
		handleAuthError(w, r, err)
		return
	}
	var req createDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.GrandTotal < 0 {
		writeError(w, r, http.StatusBadRequest, "grand_total must be >= 0")
		return
	}
	var dueDate time.Time
	if strings.TrimSpace(req.DueDate) != "" {
		parsed, err := time.Parse(time.RFC3339, req.DueDate)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "due_date must be RFC 3339")
			return
		}
		dueDate = parsed.UTC()
	}

	doc, err := a.ledger.CreateDocument(r.Context(), ledger.Amount(req.GrandTotal), dueDate)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.document.create", "document", doc.ID, map[string]string{
		"grand_total": strconv.FormatInt(req.GrandTotal, 10),
	})

	w.Header().Set("Location", "/v1/documents/"+doc.ID)
	writeJSON(w, http.StatusCreated, doc)
}

func (a *API) getDocument(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requireCapability(r, auth.CapRead); err != nil {
		handleAuthError(w, r, err)
		return
	}
	doc, err := a.ledger.GetDocument(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) cancelDocument(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requireCapability(r, auth.CapDocumentCancel); err != nil {
		handleAuthError(w, r, err)
		return
	}
	var req cancelDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := a.ledger.CancelDocument(r.Context(), id, req.IfVersion)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.document.cancel", "document", doc.ID, nil)
	if a.feed != nil {
		a.feed.Publish(events.Event{
			Op:         events.OpDocumentCancelled,
			DocumentID: doc.ID,
			Status:     doc.Status,
		})
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) markOverdue(w http.ResponseWriter, r *http.Request) {
	if err := a.requireCapability(r, auth.CapDocumentCancel); err != nil {
		handleAuthError(w, r, err)
		return
	}
	var req overdueSweepRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	asOf := time.Now().UTC()
	if strings.TrimSpace(req.AsOf) != "" {
		parsed, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "as_of must be RFC 3339")
			return
		}
		asOf = parsed.UTC()
	}

	marked, err := a.ledger.MarkOverdue(r.Context(), asOf)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.document.overdue_sweep", "document", "", map[string]string{
		"marked": strconv.Itoa(marked),
	})
	writeJSON(w, http.StatusOK, overdueSweepResponse{Marked: marked, AsOf: asOf})
}

func (a *API) applyPayment(w http.ResponseWriter, r *http.Request) {
	if err := a.requireCapability(r, auth.CapPaymentApply); err != nil {
		handleAuthError(w, r, err)
		return
	}
	var req applyPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if req.IdempotencyKey != "" {
		bodyKey := strings.TrimSpace(req.IdempotencyKey)
		if idem == "" {
			idem = bodyKey
		} else if idem != bodyKey {
			writeError(w, r, http.StatusBadRequest, "Idempotency-Key header and body value must match")
			return
		}
	}
	if len(idem) > 128 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}

	if req.AmountPaid <= 0 {
		writeError(w, r, http.StatusBadRequest, "amount_paid must be > 0")
		return
	}
	kind := ledger.PaymentKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind != "" && kind != ledger.KindReceipt && kind != ledger.KindPayment {
		writeError(w, r, http.StatusBadRequest, "kind must be receipt or payment")
		return
	}
	ptype := ledger.PaymentType(strings.ToLower(strings.TrimSpace(req.PaymentType)))
	if ptype != "" && ptype != ledger.TypeFull && ptype != ledger.TypePartial {
		writeError(w, r, http.StatusBadRequest, "payment_type must be full or partial")
		return
	}
	date := time.Now().UTC()
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "date must be RFC 3339")
			return
		}
		date = parsed.UTC()
	}

	start := time.Now().UTC()
	p, err := a.ledger.ApplyPayment(r.Context(), ledger.PaymentInput{
		DocumentID:      strings.TrimSpace(req.DocumentID),
		Kind:            kind,
		AmountPaid:      ledger.Amount(req.AmountPaid),
		PaymentType:     ptype,
		Date:            date,
		Method:          strings.TrimSpace(req.Method),
		ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
		BankAccount:     strings.TrimSpace(req.BankAccount),
	}, idem)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	replayed := idem != "" && !p.CreatedAt.After(start)

	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}

	if !replayed {
		obs.CountPayment("apply")
		if a.feed != nil {
			a.feed.Publish(events.Event{
				Op:         events.OpPaymentApplied,
				PaymentID:  p.ID,
				DocumentID: p.DocumentID,
				Amount:     p.AmountPaid,
			})
		}
	}

	meta := map[string]string{
		"amount": strconv.FormatInt(req.AmountPaid, 10),
	}
	if p.DocumentID != "" {
		meta["document_id"] = p.DocumentID
	}
	if idem != "" {
		meta["idempotency_key"] = idem
	}
	event := "ledger.payment.apply"
	if replayed {
		event = "ledger.payment.idempotent_replay"
	}
	a.audit(r.Context(), event, "payment", p.ID, meta)

	w.Header().Set("Location", "/v1/payments/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getPayment(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requireCapability(r, auth.CapRead); err != nil {
		handleAuthError(w, r, err)
		return
	}
	p, err := a.ledger.GetPayment(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) editPayment(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requireCapability(r, auth.CapPaymentEdit); err != nil {
		handleAuthError(w, r, err)
		return
	}
	var req editPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.AmountPaid < 0 {
		writeError(w, r, http.StatusBadRequest, "amount_paid must be >= 0")
		return
	}

	p, err := a.ledger.EditPayment(r.Context(), id, ledger.Amount(req.AmountPaid), req.IfVersion)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	obs.CountPayment("edit")
	if a.feed != nil {
		a.feed.Publish(events.Event{
			Op:         events.OpPaymentEdited,
			PaymentID:  p.ID,
			DocumentID: p.DocumentID,
			Amount:     p.AmountPaid,
		})
	}
	a.audit(r.Context(), "ledger.payment.edit", "payment", p.ID, map[string]string{
		"amount": strconv.FormatInt(req.AmountPaid, 10),
	})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) reversePayment(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requireCapability(r, auth.CapPaymentReverse); err != nil {
		handleAuthError(w, r, err)
		return
	}
	ifVersion, err := parseOptionalUint(r.URL.Query().Get("if_version"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "if_version must be a non-negative integer")
		return
	}

	if err := a.ledger.ReversePayment(r.Context(), id, ifVersion); err != nil {
		handleLedgerError(w, r, err)
		return
	}

	obs.CountPayment("reverse")
	if a.feed != nil {
		a.feed.Publish(events.Event{
			Op:        events.OpPaymentReversed,
			PaymentID: id,
		})
	}
	a.audit(r.Context(), "ledger.payment.reverse", "payment", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) toggleClearance(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requireCapability(r, auth.CapClearingToggle); err != nil {
		handleAuthError(w, r, err)
		return
	}

	p, err := a.ledger.ToggleClearance(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	obs.CountClearanceToggle()
	if a.feed != nil {
		a.feed.Publish(events.Event{
			Op:         events.OpClearanceToggled,
			PaymentID:  p.ID,
			DocumentID: p.DocumentID,
			Clearance:  p.ClearanceStatus,
		})
	}
	a.audit(r.Context(), "ledger.clearing.toggle", "payment", p.ID, map[string]string{
		"clearance_status": string(p.ClearanceStatus),
	})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) listPayments(w http.ResponseWriter, r *http.Request) {
	if err := a.requireCapability(r, auth.CapRead); err != nil {
		handleAuthError(w, r, err)
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	after, err := parseOptionalUint(r.URL.Query().Get("after"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
		return
	}

	items, next, err := a.ledger.ListPayments(r.Context(), limit, after)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listPaymentsResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func parseOptionalUint(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrOverpayment):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrStaleVersion):
		obs.CountStaleVersionReject()
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrDocumentCancelled):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errMissingPrincipal):
		w.Header().Set("WWW-Authenticate", `Bearer realm="paybook"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, auth.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer realm="paybook"`)
		writeError(w, r, http.StatusForbidden, "capability missing")
	default:
		writeError(w, r, http.StatusInternalServerError, "authorization error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
