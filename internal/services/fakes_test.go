package service

import (
	"context"
	"sync"
	"time"

	"github.com/paypass/wash-service/internal/gateway"
	"github.com/paypass/wash-service/internal/infrastructure/redis"
	"github.com/paypass/wash-service/internal/models"
	pkgerrors "github.com/paypass/wash-service/pkg/errors"
)

type fakePackageRepo struct {
	packages map[string]*models.PackageDefinition
	calls    int
	err      error
}

func (f *fakePackageRepo) GetByID(_ context.Context, id string) (*models.PackageDefinition, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	def, ok := f.packages[id]
	if !ok {
		return nil, pkgerrors.ErrPackageNotFound
	}
	cp := *def
	return &cp, nil
}

func (f *fakePackageRepo) ListActive(_ context.Context) ([]models.PackageDefinition, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.PackageDefinition
	for _, def := range f.packages {
		if def.Active {
			out = append(out, *def)
		}
	}
	return out, nil
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	nextID   int64
	payments map[string]*models.Payment
	reverts  int
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[string]*models.Payment)}
}

func (f *fakePaymentRepo) Create(_ context.Context, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	p.CreatedAt = time.Now()
	cp := *p
	f.payments[p.CheckoutID] = &cp
	return nil
}

func (f *fakePaymentRepo) GetByCheckoutID(_ context.Context, checkoutID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[checkoutID]
	if !ok {
		return nil, pkgerrors.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePaymentRepo) TransitionFromPending(_ context.Context, checkoutID string, to models.PaymentStatus, transactionID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[checkoutID]
	if !ok {
		return nil, pkgerrors.ErrPaymentNotFound
	}
	if p.Status != models.PaymentPending {
		return nil, pkgerrors.ErrPaymentTerminal
	}
	now := time.Now()
	p.Status = to
	p.TransactionID = transactionID
	p.CompletedAt = &now
	cp := *p
	return &cp, nil
}

func (f *fakePaymentRepo) RevertToPending(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ID == id {
			p.Status = models.PaymentPending
			p.TransactionID = ""
			p.CompletedAt = nil
			f.reverts++
			return nil
		}
	}
	return pkgerrors.ErrPaymentNotFound
}

func (f *fakePaymentRepo) ListByUser(_ context.Context, userID string, status models.PaymentStatus, _, _ int) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for _, p := range f.payments {
		if p.UserID != userID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

// fakeUserPackageRepo keeps the storage layer's guarantees in memory: the
// unique payment_id constraint and the conditional single-credit decrement.
type fakeUserPackageRepo struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]*models.UserPackage
	washes    []models.Wash
	insertErr error
}

func newFakeUserPackageRepo() *fakeUserPackageRepo {
	return &fakeUserPackageRepo{rows: make(map[int64]*models.UserPackage)}
}

func (f *fakeUserPackageRepo) Insert(_ context.Context, up *models.UserPackage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, row := range f.rows {
		if row.PaymentID == up.PaymentID {
			return pkgerrors.ErrDuplicateIssuance
		}
	}
	f.nextID++
	up.ID = f.nextID
	up.CreatedAt = time.Now()
	cp := *up
	f.rows[up.ID] = &cp
	return nil
}

func (f *fakeUserPackageRepo) GetByID(_ context.Context, id int64) (*models.UserPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, pkgerrors.ErrUserPackageNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeUserPackageRepo) GetByPaymentID(_ context.Context, paymentID int64) (*models.UserPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.PaymentID == paymentID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, pkgerrors.ErrUserPackageNotFound
}

func (f *fakeUserPackageRepo) GetByToken(_ context.Context, token string) (*models.UserPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Token == token {
			cp := *row
			return &cp, nil
		}
	}
	return nil, pkgerrors.ErrUnknownToken
}

func (f *fakeUserPackageRepo) ListByUser(_ context.Context, userID string) ([]models.UserPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.UserPackage
	for _, row := range f.rows {
		if row.UserID == userID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeUserPackageRepo) RedeemCredit(_ context.Context, userPackageID int64, locationID string) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[userPackageID]
	if !ok {
		return 0, pkgerrors.ErrUserPackageNotFound
	}
	if row.CreditsRemaining <= 0 {
		return 0, pkgerrors.ErrPackageExhausted
	}
	if time.Now().After(row.ExpiresAt) {
		return 0, pkgerrors.ErrPackageExpired
	}
	row.CreditsRemaining--
	f.washes = append(f.washes, models.Wash{
		ID:            int64(len(f.washes) + 1),
		UserPackageID: userPackageID,
		LocationID:    locationID,
		Credits:       1,
		CreatedAt:     time.Now(),
	})
	return row.CreditsRemaining, nil
}

func (f *fakeUserPackageRepo) washCount(userPackageID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.washes {
		if w.UserPackageID == userPackageID {
			n++
		}
	}
	return n
}

type fakeWashRepo struct {
	washes []models.Wash
}

func (f *fakeWashRepo) ListByUserPackage(_ context.Context, userPackageID int64) ([]models.Wash, error) {
	var out []models.Wash
	for _, w := range f.washes {
		if w.UserPackageID == userPackageID {
			out = append(out, w)
		}
	}
	return out, nil
}

type fakeGateway struct {
	session    *gateway.CheckoutSession
	createErr  error
	result     *gateway.Result
	fetchErr   error
	fetchCalls int
}

func (f *fakeGateway) CreateCheckout(_ context.Context, _ gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	cp := *f.session
	return &cp, nil
}

func (f *fakeGateway) FetchStatus(_ context.Context, _ string, _ models.PaymentMethod) (*gateway.Result, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	cp := *f.result
	return &cp, nil
}

type fakeRedis struct {
	mu    sync.Mutex
	store map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{store: make(map[string]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.store[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return val, nil
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := value.(string); ok {
		f.store[key] = s
	}
	return nil
}

func (f *fakeRedis) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, key)
	return nil
}

func (f *fakeRedis) IncrBy(_ context.Context, _ string, value int64) (int64, error) {
	return value, nil
}

func (f *fakeRedis) Expire(_ context.Context, _ string, _ time.Duration) error { return nil }

func (f *fakeRedis) Close() error { return nil }

type sentMessage struct {
	topic string
	key   int64
	value []byte
}

type fakeKafka struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeKafka) Send(_ context.Context, topic string, key int64, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{topic: topic, key: key, value: value})
	return nil
}

func (f *fakeKafka) Close() error { return nil }

func (f *fakeKafka) sentTo(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.topic == topic {
			n++
		}
	}
	return n
}
