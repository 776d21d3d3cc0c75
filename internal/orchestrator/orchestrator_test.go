package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/renderloop/backend/internal/gate"
	"github.com/renderloop/backend/internal/ledger"
	"github.com/renderloop/backend/internal/models"
	"github.com/renderloop/backend/internal/provider"
)

// ---------------------------------------------------------------------------
// Mocks for every orchestrator collaborator.
// ---------------------------------------------------------------------------

type mockGate struct{ deny error }

func (m *mockGate) Admit(context.Context, *models.Account, string) error { return m.deny }

type mockLedger struct {
	mu      sync.Mutex
	balance int
	debits  []int
	refunds []int
}

func (m *mockLedger) Debit(_ context.Context, _, _ uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balance < amount {
		return 0, ledger.ErrInsufficientFunds
	}
	m.balance -= amount
	m.debits = append(m.debits, amount)
	return m.balance, nil
}

func (m *mockLedger) Refund(_ context.Context, _, _ uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance += amount
	m.refunds = append(m.refunds, amount)
	return m.balance, nil
}

func (m *mockLedger) current() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

type mockPool struct {
	mu       sync.Mutex
	response []byte
	err      error
	deducted []int
}

func (m *mockPool) CallWithRotation(context.Context, string, []byte, int) ([]byte, *models.ProviderKey, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.response, &models.ProviderKey{ID: uuid.New()}, nil
}

func (m *mockPool) DeductQuota(_ context.Context, _ uuid.UUID, amount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deducted = append(m.deducted, amount)
}

type mockTasks struct {
	mu      sync.Mutex
	created []*models.GenerationTask
	err     error
}

func (m *mockTasks) Create(_ context.Context, t *models.GenerationTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *t
	m.created = append(m.created, &cp)
	return nil
}

func (m *mockTasks) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

type mockInputs struct {
	stageErr error
	staged   int
	released []string
}

func (m *mockInputs) Stage(context.Context, []byte) (string, error) {
	if m.stageErr != nil {
		return "", m.stageErr
	}
	m.staged++
	return "http://store/objects/abc", nil
}

func (m *mockInputs) Release(_ context.Context, url string) error {
	m.released = append(m.released, url)
	return nil
}

// ---------------------------------------------------------------------------
// Fixture: one image model costing 4 credits.
// ---------------------------------------------------------------------------

func testRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	reg, err := provider.NewRegistry([]provider.AdapterSpec{{
		Model:    "pixgen-1",
		Kind:     models.KindImage,
		Endpoint: "https://up/generate",
		BaseCost: 4,
	}})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

type fixture struct {
	gate   *mockGate
	ledger *mockLedger
	pool   *mockPool
	tasks  *mockTasks
	inputs *mockInputs
	orch   *Orchestrator
}

func newFixture(t *testing.T, balance int) *fixture {
	f := &fixture{
		gate:   &mockGate{},
		ledger: &mockLedger{balance: balance},
		pool:   &mockPool{response: []byte(`{"task_id":"pt-77"}`)},
		tasks:  &mockTasks{},
		inputs: &mockInputs{},
	}
	f.orch = New(f.gate, f.ledger, f.pool, testRegistry(t), f.inputs, f.tasks,
		"http://broker/v1/webhooks/provider", 3, nil)
	return f
}

func account() *models.Account {
	return &models.Account{ID: uuid.New(), Tier: models.TierFree}
}

// ---------------------------------------------------------------------------

func TestSubmit_Success(t *testing.T) {
	f := newFixture(t, 10)
	receipt, err := f.orch.Submit(context.Background(), account(), "pixgen-1", json.RawMessage(`{"prompt":"a cat"}`), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.Cost != 4 || receipt.Balance != 6 {
		t.Errorf("receipt: got cost %d balance %d, want 4 and 6", receipt.Cost, receipt.Balance)
	}
	if receipt.ProviderTaskID != "pt-77" {
		t.Errorf("provider task id: got %q, want pt-77", receipt.ProviderTaskID)
	}
	if f.tasks.count() != 1 {
		t.Fatalf("tasks created: got %d, want 1", f.tasks.count())
	}
	task := f.tasks.created[0]
	if task.Status != models.TaskStatusProcessing {
		t.Errorf("task status: got %q, want processing", task.Status)
	}
	if task.Cost != 4 {
		t.Errorf("task cost: got %d, want 4", task.Cost)
	}
	if len(f.pool.deducted) != 1 || f.pool.deducted[0] != 4 {
		t.Errorf("quota deduction: got %v, want [4]", f.pool.deducted)
	}
	if len(f.ledger.refunds) != 0 {
		t.Error("a successful submission must not refund")
	}
}

func TestSubmit_UnknownModel(t *testing.T) {
	f := newFixture(t, 10)
	_, err := f.orch.Submit(context.Background(), account(), "no-such-model", nil, nil)
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got: %v", err)
	}
	if len(f.ledger.debits) != 0 {
		t.Error("unknown model must be rejected before any debit")
	}
}

func TestSubmit_InsufficientFunds(t *testing.T) {
	f := newFixture(t, 3) // cost is 4
	_, err := f.orch.Submit(context.Background(), account(), "pixgen-1", nil, nil)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got: %v", err)
	}
	if f.ledger.current() != 3 {
		t.Errorf("balance: got %d, want untouched 3", f.ledger.current())
	}
	if f.tasks.count() != 0 {
		t.Error("no task record on a rejected submission")
	}
	if f.inputs.staged != 0 {
		t.Error("nothing should be staged before the debit")
	}
}

func TestSubmit_AdmissionDenied(t *testing.T) {
	f := newFixture(t, 10)
	f.gate.deny = &gate.DeniedError{Kind: models.KindImage, Limit: 1, Current: 1}
	_, err := f.orch.Submit(context.Background(), account(), "pixgen-1", nil, nil)
	if !errors.Is(err, gate.ErrAdmissionDenied) {
		t.Fatalf("expected ErrAdmissionDenied, got: %v", err)
	}
	if len(f.ledger.debits) != 0 {
		t.Error("denial happens before the debit")
	}
}

// Balance 10, cost 4, provider rejects: error surfaces AND the balance is 10
// again with a debit/refund pair on record.
func TestSubmit_ProviderFailureRefunds(t *testing.T) {
	f := newFixture(t, 10)
	f.pool.err = &provider.CallError{StatusCode: 500, Body: "upstream down"}
	_, err := f.orch.Submit(context.Background(), account(), "pixgen-1", nil, nil)
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got: %v", err)
	}
	if f.ledger.current() != 10 {
		t.Errorf("balance after refund: got %d, want 10", f.ledger.current())
	}
	if len(f.ledger.debits) != 1 || len(f.ledger.refunds) != 1 {
		t.Errorf("ledger should show one debit and one refund, got %d/%d",
			len(f.ledger.debits), len(f.ledger.refunds))
	}
	if f.tasks.count() != 0 {
		t.Error("no task record for a failed submission")
	}
}

func TestSubmit_NoTaskIDInResponseRefunds(t *testing.T) {
	f := newFixture(t, 10)
	f.pool.response = []byte(`{"status":"accepted"}`) // nothing trackable
	_, err := f.orch.Submit(context.Background(), account(), "pixgen-1", nil, nil)
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got: %v", err)
	}
	if f.ledger.current() != 10 {
		t.Errorf("balance after refund: got %d, want 10", f.ledger.current())
	}
}

func TestSubmit_StagingFailureRefunds(t *testing.T) {
	f := newFixture(t, 10)
	f.inputs.stageErr = errors.New("store unreachable")
	_, err := f.orch.Submit(context.Background(), account(), "pixgen-1", nil, []byte("raw-image-bytes"))
	if !errors.Is(err, ErrStagingFailed) {
		t.Fatalf("expected ErrStagingFailed, got: %v", err)
	}
	if f.ledger.current() != 10 {
		t.Errorf("balance after refund: got %d, want 10", f.ledger.current())
	}
}

func TestSubmit_PersistFailureRefundsAndReleases(t *testing.T) {
	f := newFixture(t, 10)
	f.tasks.err = errors.New("insert failed")
	_, err := f.orch.Submit(context.Background(), account(), "pixgen-1", nil, []byte("raw-image-bytes"))
	if err == nil {
		t.Fatal("expected an error when the task record cannot be written")
	}
	if f.ledger.current() != 10 {
		t.Errorf("balance after refund: got %d, want 10", f.ledger.current())
	}
	if len(f.inputs.released) != 1 {
		t.Errorf("staged input should be released, got %d releases", len(f.inputs.released))
	}
}

// Two concurrent cost-4 submissions against a balance of 6: exactly one is
// accepted, and the loser's rejection leaves no residue.
func TestSubmit_ConcurrentDebitsNeverOverspend(t *testing.T) {
	f := newFixture(t, 6)
	acc := account()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.orch.Submit(context.Background(), acc, "pixgen-1", nil, nil)
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrInsufficientFunds):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Errorf("got %d accepted and %d rejected, want exactly 1 of each", ok, rejected)
	}
	if f.ledger.current() != 2 {
		t.Errorf("balance: got %d, want 2", f.ledger.current())
	}
	if f.tasks.count() != 1 {
		t.Errorf("tasks created: got %d, want 1", f.tasks.count())
	}
}
