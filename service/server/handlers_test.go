package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caja-cash/caja/service/db"
	"github.com/caja-cash/caja/service/history"
	"github.com/caja-cash/caja/service/ledger"
	"github.com/caja-cash/caja/service/relay"
	"github.com/caja-cash/caja/service/resolver"
)

type fakeSubmitter struct {
	lastParams ledger.SubmitParams
	calls      int
	result     *ledger.SubmitResult
	err        error
}

func (f *fakeSubmitter) Submit(ctx context.Context, params ledger.SubmitParams) (*ledger.SubmitResult, error) {
	f.calls++
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeHistory struct {
	lastUserID   uuid.UUID
	lastPage     int
	lastPageSize int
	lastTxID     uuid.UUID
	txns         []history.DisplayTransaction
	txn          *history.DisplayTransaction
	err          error
}

func (f *fakeHistory) ListForUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]history.DisplayTransaction, error) {
	f.lastUserID = userID
	f.lastPage = page
	f.lastPageSize = pageSize
	if f.err != nil {
		return nil, f.err
	}
	return f.txns, nil
}

func (f *fakeHistory) GetForUser(ctx context.Context, userID, txID uuid.UUID) (*history.DisplayTransaction, error) {
	f.lastUserID = userID
	f.lastTxID = txID
	if f.err != nil {
		return nil, f.err
	}
	return f.txn, nil
}

type fakeStatuser struct {
	status *relay.RelayerStatus
	err    error
}

func (f *fakeStatuser) Status(ctx context.Context) (*relay.RelayerStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func submitBody(t *testing.T, recipient, token string, amount int64) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"recipient": recipient,
		"amount":    amount,
		"token":     token,
	})
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestSubmitTransaction(t *testing.T) {
	userID := uuid.New()
	txID := uuid.New()
	transferHash := "0x7d3c9f2e1b8a4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6e7f8091a2b3c4d5"
	topupHash := "0x1a2b3c4d5e6f708192a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6e7f809"

	submitter := &fakeSubmitter{
		result: &ledger.SubmitResult{
			Transaction: &db.Transaction{
				ID:     txID,
				Status: db.StatusConfirmed,
				TxHash: &transferHash,
			},
			Sponsored:   true,
			TopupTxHash: &topupHash,
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions",
		submitBody(t, "bob", "USDC", 2_500_000))
	req.Header.Set(userIDHeader, userID.String())
	rec := httptest.NewRecorder()

	handleSubmitTransaction(submitter, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, userID, submitter.lastParams.SenderUserID)
	assert.Equal(t, "bob", submitter.lastParams.Recipient)
	assert.Equal(t, int64(2_500_000), submitter.lastParams.Amount)
	assert.Equal(t, "USDC", submitter.lastParams.Token)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, txID.String(), resp.TransactionID)
	assert.Equal(t, db.StatusConfirmed, resp.Status)
	assert.True(t, resp.Sponsored)
	require.NotNil(t, resp.TopupTxHash)
	assert.Equal(t, topupHash, *resp.TopupTxHash)
	require.NotNil(t, resp.TransferTx)
	assert.Equal(t, transferHash, *resp.TransferTx)
}

func TestSubmitTransactionAuth(t *testing.T) {
	submitter := &fakeSubmitter{}

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions",
			submitBody(t, "bob", "USDC", 100))
		rec := httptest.NewRecorder()

		handleSubmitTransaction(submitter, testLogger()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, submitter.calls)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions",
			submitBody(t, "bob", "USDC", 100))
		req.Header.Set(userIDHeader, "not-a-uuid")
		rec := httptest.NewRecorder()

		handleSubmitTransaction(submitter, testLogger()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, submitter.calls)
	})
}

func TestSubmitTransactionBadRequests(t *testing.T) {
	userID := uuid.New()
	submitter := &fakeSubmitter{}

	tests := []struct {
		name string
		body *bytes.Reader
	}{
		{"invalid json", bytes.NewReader([]byte("{not json"))},
		{"missing recipient", submitBody(t, "", "USDC", 100)},
		{"missing token", submitBody(t, "bob", "", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", tt.body)
			req.Header.Set(userIDHeader, userID.String())
			rec := httptest.NewRecorder()

			handleSubmitTransaction(submitter, testLogger()).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, submitter.calls)
		})
	}
}

func TestSubmitTransactionErrorMapping(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid amount", ledger.ErrInvalidAmount, http.StatusBadRequest},
		{"unsupported token", ledger.ErrUnsupportedToken, http.StatusBadRequest},
		{"bad recipient format", resolver.ErrInvalidFormat, http.StatusBadRequest},
		{"recipient not found", resolver.ErrNotFound, http.StatusNotFound},
		{"recipient has no wallet", resolver.ErrNoWallet, http.StatusUnprocessableEntity},
		{"self transfer", resolver.ErrSelfTransfer, http.StatusUnprocessableEntity},
		{"sender has no wallet", ledger.ErrNoWallet, http.StatusUnprocessableEntity},
		{"insufficient balance", ledger.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{"sponsorship unavailable", relay.ErrSponsorshipUnavailable, http.StatusServiceUnavailable},
		{"chain submission failed", ledger.ErrChainSubmission, http.StatusBadGateway},
		{"unexpected", errors.New("pool exhausted"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submitter := &fakeSubmitter{err: tt.err}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions",
				submitBody(t, "bob", "USDC", 100))
			req.Header.Set(userIDHeader, userID.String())
			rec := httptest.NewRecorder()

			handleSubmitTransaction(submitter, testLogger()).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestSubmitTransactionWrappedErrors(t *testing.T) {
	// Submit wraps sentinels with context; the mapping must survive that.
	userID := uuid.New()
	submitter := &fakeSubmitter{
		err: &wrappedError{msg: "resolve recipient: handle not registered", inner: resolver.ErrNotFound},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions",
		submitBody(t, "ghost", "USDC", 100))
	req.Header.Set(userIDHeader, userID.String())
	rec := httptest.NewRecorder()

	handleSubmitTransaction(submitter, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type wrappedError struct {
	msg   string
	inner error
}

func (e *wrappedError) Error() string { return e.msg }
func (e *wrappedError) Unwrap() error { return e.inner }

func TestListTransactions(t *testing.T) {
	userID := uuid.New()
	confirmedAt := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	txHash := "0xaaaa"
	hist := &fakeHistory{
		txns: []history.DisplayTransaction{
			{
				ID:            uuid.New(),
				Direction:     history.DirectionSent,
				Counterparty:  "bob@caja",
				Amount:        1_000_000,
				Token:         "USDC",
				Status:        db.StatusConfirmed,
				PaymentMethod: "handle",
				TxHash:        &txHash,
				CreatedAt:     confirmedAt.Add(-time.Minute),
				ConfirmedAt:   &confirmedAt,
			},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions?page=2&page_size=10", nil)
	req.Header.Set(userIDHeader, userID.String())
	rec := httptest.NewRecorder()

	handleListTransactions(hist, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, hist.lastUserID)
	assert.Equal(t, 2, hist.lastPage)
	assert.Equal(t, 10, hist.lastPageSize)

	var resp struct {
		Transactions []history.DisplayTransaction `json:"transactions"`
		Page         int                          `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Page)
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, "bob@caja", resp.Transactions[0].Counterparty)
}

func TestListTransactionsDefaults(t *testing.T) {
	hist := &fakeHistory{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions?page=garbage", nil)
	req.Header.Set(userIDHeader, uuid.New().String())
	rec := httptest.NewRecorder()

	handleListTransactions(hist, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, hist.lastPage)
	assert.Equal(t, 0, hist.lastPageSize)
}

func TestListTransactionsRequiresAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
	rec := httptest.NewRecorder()

	handleListTransactions(&fakeHistory{}, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListTransactionsStoreFailure(t *testing.T) {
	hist := &fakeHistory{err: errors.New("connection refused")}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
	req.Header.Set(userIDHeader, uuid.New().String())
	rec := httptest.NewRecorder()

	handleListTransactions(hist, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetTransaction(t *testing.T) {
	userID := uuid.New()
	txID := uuid.New()
	hist := &fakeHistory{
		txn: &history.DisplayTransaction{
			ID:           txID,
			Direction:    history.DirectionReceived,
			Counterparty: "+1••••••4567",
			Amount:       2_500_000,
			Token:        "USDC",
			Status:       db.StatusConfirmed,
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+txID.String(), nil)
	req.SetPathValue("id", txID.String())
	req.Header.Set(userIDHeader, userID.String())
	rec := httptest.NewRecorder()

	handleGetTransaction(hist, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, hist.lastUserID)
	assert.Equal(t, txID, hist.lastTxID)

	var resp history.DisplayTransaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, txID, resp.ID)
	assert.Equal(t, "+1••••••4567", resp.Counterparty)
}

func TestGetTransactionErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"not found", db.ErrNotFound, http.StatusNotFound},
		{"not a participant", history.ErrNotParticipant, http.StatusForbidden},
		{"store failure", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txID := uuid.New()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+txID.String(), nil)
			req.SetPathValue("id", txID.String())
			req.Header.Set(userIDHeader, uuid.New().String())
			rec := httptest.NewRecorder()

			handleGetTransaction(&fakeHistory{err: tt.err}, testLogger()).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestGetTransactionBadID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/not-a-uuid", nil)
	req.SetPathValue("id", "not-a-uuid")
	req.Header.Set(userIDHeader, uuid.New().String())
	rec := httptest.NewRecorder()

	handleGetTransaction(&fakeHistory{}, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTransactionRequiresAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()

	handleGetTransaction(&fakeHistory{}, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRelayerStatus(t *testing.T) {
	statuser := &fakeStatuser{
		status: &relay.RelayerStatus{
			Address:               "0x96216849c49358B10257cb55b28eA603c874b05E",
			BalanceWei:            "5000000000000000000",
			EstimatedSponsorships: 1157,
			Level:                 "funded",
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/relayer/status", nil)
	rec := httptest.NewRecorder()

	handleRelayerStatus(statuser, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp relay.RelayerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "funded", resp.Level)
	assert.Equal(t, int64(1157), resp.EstimatedSponsorships)
}

func TestRelayerStatusChainFailure(t *testing.T) {
	statuser := &fakeStatuser{err: errors.New("rpc timeout")}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/relayer/status", nil)
	rec := httptest.NewRecorder()

	handleRelayerStatus(statuser, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
