package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallcrm/leadhook/internal/clock"
	"github.com/smallcrm/leadhook/internal/config"
	"github.com/smallcrm/leadhook/internal/crm"
	enrichdomain "github.com/smallcrm/leadhook/internal/enrichment/domain"
	eventdomain "github.com/smallcrm/leadhook/internal/event/domain"
	eventrepository "github.com/smallcrm/leadhook/internal/event/repository"
	eventservice "github.com/smallcrm/leadhook/internal/event/service"
	"github.com/smallcrm/leadhook/internal/webhook/domain"
	"github.com/smallcrm/leadhook/internal/webhook/signature"
)

const testSecret = "whsec_test"

var memDBCounter int

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	memDBCounter++
	dsn := fmt.Sprintf("file:pipeline_memdb_%d?mode=memory&cache=shared", memDBCounter)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`CREATE TABLE lead_events (
		id BIGINT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		lead_id TEXT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		raw_payload TEXT NOT NULL,
		received_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP
	)`).Error)
	return db
}

// fakeLocker is an in-process Locker good enough for single-instance tests.
type fakeLocker struct {
	mu        sync.Mutex
	held      map[string]string
	contended bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.contended {
		return "", false, nil
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := fmt.Sprintf("token-%d", len(l.held)+1)
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return errors.New("not the lock holder")
	}
	delete(l.held, key)
	return nil
}

type fakeEnricher struct {
	err     error
	partial map[string]string
}

func (f *fakeEnricher) Enrich(_ context.Context, query enrichdomain.Query) (*enrichdomain.EnrichedLead, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &enrichdomain.EnrichedLead{
		LeadID:     query.LeadID,
		Name:       "Maria Souza",
		Phone:      query.Phone,
		Email:      query.Email,
		Documents:  []string{"12345678901"},
		SamePerson: true,
		Attributes: map[string]map[string]any{
			"directory": {"name": "Maria Souza"},
		},
		Sources:       []string{"directory"},
		PartialErrors: f.partial,
	}, nil
}

// crmRecorder counts deliveries and can simulate an outage.
type crmRecorder struct {
	mu       sync.Mutex
	messages []string
	patches  int
	down     bool
}

func (r *crmRecorder) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /leads/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.messages = append(r.messages, body.Text)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("PATCH /leads/{id}", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.patches++
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (r *crmRecorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type pipelineFixture struct {
	svc      domain.Service
	events   eventdomain.Service
	locker   *fakeLocker
	enricher *fakeEnricher
	crm      *crmRecorder
	clock    *clock.FakeClock
}

func setupPipeline(t *testing.T) *pipelineFixture {
	t.Helper()
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	recorder := &crmRecorder{}
	crmServer := httptest.NewServer(recorder.handler())
	t.Cleanup(crmServer.Close)

	cfg := config.Config{
		Webhook: config.WebhookConfig{
			Secret:       testSecret,
			MaxSkew:      5 * time.Minute,
			LockLease:    5 * time.Minute,
			EventTimeout: 30 * time.Second,
		},
		CRM: config.CRMConfig{
			BaseURL: crmServer.URL,
			Token:   "crm-token",
			Timeout: 5 * time.Second,
		},
	}

	eventSvc := eventservice.NewService(eventservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  eventrepository.Provide(),
	})

	locker := newFakeLocker()
	enricher := &fakeEnricher{}
	client := crm.NewClient(crm.Params{Log: zap.NewNop(), Config: cfg})

	svc := NewService(Params{
		Log:      zap.NewNop(),
		Config:   cfg,
		Clock:    fake,
		Verifier: signature.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.MaxSkew, fake),
		Locker:   locker,
		Events:   eventSvc,
		Enricher: enricher,
		CRM:      client,
	})

	return &pipelineFixture{
		svc:      svc,
		events:   eventSvc,
		locker:   locker,
		enricher: enricher,
		crm:      recorder,
		clock:    fake,
	}
}

func signedPayload(f *pipelineFixture, body []byte) string {
	return signature.Header(testSecret, f.clock.Now().Unix(), body)
}

func leadBody(leadID, updatedAt string) []byte {
	return []byte(fmt.Sprintf(
		`{"action":"lead.created","lead":{"id":%q,"name":"Maria","phone":"+5511998765432","email":"maria@example.com","updated_at":%q}}`,
		leadID, updatedAt,
	))
}

func TestHandleWebhookHappyPath(t *testing.T) {
	f := setupPipeline(t)
	body := leadBody("42", "2026-03-01T11:59:00Z")

	receipt, err := f.svc.HandleWebhook(context.Background(), body, signedPayload(f, body))
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Received)
	assert.Equal(t, 1, receipt.Processed)
	assert.Equal(t, 0, receipt.Failed)
	require.Len(t, receipt.Results, 1)
	assert.Equal(t, domain.ResultProcessed, receipt.Results[0].Status)

	assert.Equal(t, 1, f.crm.messageCount())

	record, err := f.events.Get(context.Background(), receipt.Results[0].EventID)
	require.NoError(t, err)
	assert.Equal(t, eventdomain.StatusSuccess, record.Status)

	// Lock released after processing.
	assert.Empty(t, f.locker.held)
}

func TestHandleWebhookIdempotence(t *testing.T) {
	f := setupPipeline(t)
	body := leadBody("42", "2026-03-01T11:59:00Z")

	first, err := f.svc.HandleWebhook(context.Background(), body, signedPayload(f, body))
	require.NoError(t, err)
	require.Equal(t, 1, first.Processed)

	second, err := f.svc.HandleWebhook(context.Background(), body, signedPayload(f, body))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 1, second.Duplicates)
	assert.Equal(t, domain.ResultDuplicate, second.Results[0].Status)

	// No double delivery.
	assert.Equal(t, 1, f.crm.messageCount())
}

func TestHandleWebhookSignatureRejection(t *testing.T) {
	f := setupPipeline(t)
	body := leadBody("42", "2026-03-01T11:59:00Z")
	header := signedPayload(f, body)

	t.Run("tampered body", func(t *testing.T) {
		tampered := leadBody("43", "2026-03-01T11:59:00Z")
		_, err := f.svc.HandleWebhook(context.Background(), tampered, header)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := f.svc.HandleWebhook(context.Background(), body, "")
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := f.clock.Now().Add(-10 * time.Minute).Unix()
		staleHeader := signature.Header(testSecret, old, body)
		_, err := f.svc.HandleWebhook(context.Background(), body, staleHeader)
		assert.ErrorIs(t, err, domain.ErrStaleRequest)
	})

	// Nothing was admitted to the ledger.
	records, err := f.events.List(context.Background(), "", 50)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHandleWebhookMalformedPayload(t *testing.T) {
	f := setupPipeline(t)

	for name, body := range map[string][]byte{
		"not json":           []byte(`{{`),
		"missing lead id":    []byte(`{"action":"lead.created","lead":{"updated_at":"2026-03-01T11:59:00Z"}}`),
		"missing updated_at": []byte(`{"action":"lead.created","lead":{"id":"42"}}`),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.HandleWebhook(context.Background(), body, signedPayload(f, body))
			assert.ErrorIs(t, err, domain.ErrMalformedPayload)
		})
	}
}

func TestHandleWebhookLockContention(t *testing.T) {
	f := setupPipeline(t)
	f.locker.contended = true
	body := leadBody("42", "2026-03-01T11:59:00Z")

	receipt, err := f.svc.HandleWebhook(context.Background(), body, signedPayload(f, body))
	require.NoError(t, err)
	assert.Equal(t, domain.ResultContended, receipt.Results[0].Status)
	assert.Equal(t, 1, receipt.Duplicates)

	// Contention short-circuits before the ledger.
	records, err := f.events.List(context.Background(), "", 50)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, f.crm.messageCount())
}

func TestHandleWebhookEnrichmentTotalFailure(t *testing.T) {
	f := setupPipeline(t)
	f.enricher.err = enrichdomain.ErrAllProvidersFailed
	body := leadBody("42", "2026-03-01T11:59:00Z")

	receipt, err := f.svc.HandleWebhook(context.Background(), body, signedPayload(f, body))
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Failed)
	assert.Equal(t, domain.ResultFailed, receipt.Results[0].Status)

	record, err := f.events.Get(context.Background(), receipt.Results[0].EventID)
	require.NoError(t, err)
	assert.Equal(t, eventdomain.StatusFailed, record.Status)
	require.NotNil(t, record.ErrorMessage)
	assert.Contains(t, *record.ErrorMessage, "enrichment")
	assert.Equal(t, 0, f.crm.messageCount())
}

func TestHandleWebhookPartialEnrichmentStillDelivers(t *testing.T) {
	f := setupPipeline(t)
	f.enricher.partial = map[string]string{"profile": "connection refused"}
	body := leadBody("42", "2026-03-01T11:59:00Z")

	receipt, err := f.svc.HandleWebhook(context.Background(), body, signedPayload(f, body))
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Processed)
	assert.Equal(t, 1, f.crm.messageCount())

	f.crm.mu.Lock()
	message := f.crm.messages[0]
	f.crm.mu.Unlock()
	assert.Contains(t, message, "profile")
}

func TestHandleWebhookRetryAfterDeliveryFailure(t *testing.T) {
	f := setupPipeline(t)
	body := leadBody("42", "2026-03-01T11:59:00Z")

	f.crm.down = true
	receipt, err := f.svc.HandleWebhook(context.Background(), body, signedPayload(f, body))
	require.NoError(t, err)
	require.Equal(t, 1, receipt.Failed)

	record, err := f.events.Get(context.Background(), receipt.Results[0].EventID)
	require.NoError(t, err)
	assert.Equal(t, eventdomain.StatusFailed, record.Status)

	// Redelivery after the outage clears succeeds with retry_count = 1.
	f.crm.mu.Lock()
	f.crm.down = false
	f.crm.mu.Unlock()

	retry, err := f.svc.HandleWebhook(context.Background(), body, signedPayload(f, body))
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Processed)

	record, err = f.events.Get(context.Background(), retry.Results[0].EventID)
	require.NoError(t, err)
	assert.Equal(t, eventdomain.StatusSuccess, record.Status)
	assert.Equal(t, 1, record.RetryCount)
	assert.Equal(t, 1, f.crm.messageCount())
}

func TestHandleWebhookBatch(t *testing.T) {
	f := setupPipeline(t)
	body := []byte(fmt.Sprintf(`[%s,%s]`,
		leadBody("42", "2026-03-01T11:59:00Z"),
		leadBody("43", "2026-03-01T11:58:00Z"),
	))

	receipt, err := f.svc.HandleWebhook(context.Background(), body, signedPayload(f, body))
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.Received)
	assert.Equal(t, 2, receipt.Processed)
	assert.Equal(t, 2, f.crm.messageCount())
}

func TestEventIDDistinguishesUpdates(t *testing.T) {
	f := setupPipeline(t)

	first := leadBody("42", "2026-03-01T11:50:00Z")
	second := leadBody("42", "2026-03-01T11:59:00Z")

	r1, err := f.svc.HandleWebhook(context.Background(), first, signedPayload(f, first))
	require.NoError(t, err)
	r2, err := f.svc.HandleWebhook(context.Background(), second, signedPayload(f, second))
	require.NoError(t, err)

	assert.Equal(t, 1, r1.Processed)
	assert.Equal(t, 1, r2.Processed)
	assert.NotEqual(t, r1.Results[0].EventID, r2.Results[0].EventID)
	assert.Equal(t, 2, f.crm.messageCount())
}
