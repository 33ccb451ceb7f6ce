package dispatch

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lendfield/rcs-dispatch/internal/gateway"
	"github.com/lendfield/rcs-dispatch/internal/leads"
	"github.com/lendfield/rcs-dispatch/internal/model"
	"github.com/lendfield/rcs-dispatch/internal/render"
	"github.com/lendfield/rcs-dispatch/internal/repo"
	"github.com/lendfield/rcs-dispatch/internal/rules"
)

// Tuesday morning, well inside the 08:00-20:00 Budapest window.
var insideWindow = time.Date(2025, 3, 4, 10, 0, 0, 0, mustLoc("Europe/Budapest"))

func mustLoc(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func budapestHours() model.OperatingHours {
	return model.OperatingHours{StartTime: "08:00", EndTime: "20:00", Timezone: "Europe/Budapest"}
}

type gatewayCall struct {
	phone   string
	payload render.Payload
}

type fakeGateway struct {
	mu     sync.Mutex
	result gateway.Result
	calls  []gatewayCall
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func (f *fakeGateway) Send(_ context.Context, phone string, payload render.Payload) gateway.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, gatewayCall{phone: phone, payload: payload})
	return f.result
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func accepted() gateway.Result {
	return gateway.Result{Success: true, StatusCode: http.StatusAccepted, Body: `{"messageId":"abc"}`}
}

func rejected(code int) gateway.Result {
	return gateway.Result{Success: false, StatusCode: code, Body: "rejected"}
}

// countingRules wraps a provider and counts ActiveRule lookups. The tick
// prepare phase is sequential, so a plain counter is fine.
type countingRules struct {
	rules.Provider
	activeCalls int
}

func (c *countingRules) ActiveRule(ctx context.Context, source string) (model.DistributionRule, error) {
	c.activeCalls++
	return c.Provider.ActiveRule(ctx, source)
}

type env struct {
	queue   *repo.Memory
	rules   *countingRules
	leads   *leads.Memory
	gateway *fakeGateway
	d       *Dispatcher
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()

	ruleStore := rules.NewMemory()
	if err := ruleStore.PutRule(context.Background(), model.DistributionRule{
		Source:  "personal-loan",
		Enabled: true,
		LenderPriority: []model.LenderPriority{
			{Lender: "acme", Priority: 1, DelayDays: 0},
		},
		Fallback: model.FallbackCampaign{Enabled: true, DelayDays: 2},
		Hours:    budapestHours(),
	}); err != nil {
		t.Fatalf("put rule: %v", err)
	}

	leadStore := leads.NewMemory()
	leadStore.Put(leads.Lead{
		ID:         "lead-1",
		Phone:      "+36201234567",
		Source:     "personal-loan",
		FullName:   "Anna Kovacs",
		LoanAmount: 500000,
	})

	registry := render.NewRegistry()
	registry.RegisterLender("acme", render.NewLenderOffer("acme"))
	registry.RegisterFallback(render.NewCampaignInvite())

	e := &env{
		queue:   repo.NewMemory(),
		rules:   &countingRules{Provider: ruleStore},
		leads:   leadStore,
		gateway: &fakeGateway{result: accepted()},
	}
	e.d = New(e.queue, e.rules, e.leads, registry, e.gateway, opts)
	e.d.now = func() time.Time { return insideWindow }
	return e
}

func (e *env) createDue(t *testing.T, leadID string) model.QueueEntry {
	t.Helper()
	entry, err := e.queue.Create(context.Background(), repo.CreateEntryRequest{
		LeadID:        leadID,
		Phone:         "+36201234567",
		Kind:          model.KindLenderSuccess,
		LenderName:    "acme",
		Priority:      1,
		ScheduledTime: insideWindow.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	return entry
}

func (e *env) entry(t *testing.T, leadID, id string) model.QueueEntry {
	t.Helper()
	all, err := e.queue.FindByLead(context.Background(), leadID)
	if err != nil {
		t.Fatalf("find by lead: %v", err)
	}
	for _, got := range all {
		if got.ID == id {
			return got
		}
	}
	t.Fatalf("entry %s not found for lead %s", id, leadID)
	return model.QueueEntry{}
}

func TestTickSendsDueEntry(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	created := e.createDue(t, "lead-1")

	var sentHook []string
	e.d.WithHooks(
		func(_ context.Context, entry model.QueueEntry, _ gateway.Result) error {
			sentHook = append(sentHook, entry.ID)
			return nil
		},
		func(_ context.Context, entry model.QueueEntry, reason string) error {
			t.Errorf("did not expect failure hook, got entry=%s reason=%s", entry.ID, reason)
			return nil
		},
	)

	stats, err := e.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if stats.Processed != 1 || stats.Sent != 1 {
		t.Fatalf("stats = %+v, want processed=1 sent=1", stats)
	}

	got := e.entry(t, "lead-1", created.ID)
	if got.Status != model.StatusSent {
		t.Fatalf("status = %s, want sent", got.Status)
	}
	if got.SentAt == nil || !got.SentAt.Equal(insideWindow) {
		t.Fatalf("sentAt = %v, want %v", got.SentAt, insideWindow)
	}
	if got.RenderedPayload == nil || !strings.Contains(*got.RenderedPayload, "lender_offer_acme") {
		t.Fatalf("renderedPayload = %v", got.RenderedPayload)
	}
	if got.GatewayResponse == nil || !strings.Contains(*got.GatewayResponse, `"success":true`) {
		t.Fatalf("gatewayResponse = %v", got.GatewayResponse)
	}

	if e.gateway.callCount() != 1 {
		t.Fatalf("gateway calls = %d, want 1", e.gateway.callCount())
	}
	call := e.gateway.calls[0]
	if call.phone != "+36201234567" {
		t.Fatalf("gateway phone = %q", call.phone)
	}
	if call.payload.Template != "lender_offer_acme" {
		t.Fatalf("gateway template = %q", call.payload.Template)
	}

	if len(sentHook) != 1 || sentHook[0] != created.ID {
		t.Fatalf("sent hook calls = %v", sentHook)
	}
}

func TestTickRendersFallbackCampaign(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	if _, err := e.queue.Create(context.Background(), repo.CreateEntryRequest{
		LeadID:        "lead-1",
		Phone:         "+36201234567",
		Kind:          model.KindFallbackCampaign,
		ScheduledTime: insideWindow.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("create entry: %v", err)
	}

	stats, err := e.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if stats.Sent != 1 {
		t.Fatalf("stats = %+v, want sent=1", stats)
	}
	if e.gateway.calls[0].payload.Template != "fallback_campaign" {
		t.Fatalf("template = %q", e.gateway.calls[0].payload.Template)
	}
}

func TestTickSkipsOutsideOperatingHours(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	created := e.createDue(t, "lead-1")

	e.d.now = func() time.Time {
		return time.Date(2025, 3, 4, 21, 30, 0, 0, mustLoc("Europe/Budapest"))
	}

	stats, err := e.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if stats.Processed != 1 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v, want processed=1 skipped=1", stats)
	}

	got := e.entry(t, "lead-1", created.ID)
	if got.Status != model.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.Attempts != 0 {
		t.Fatalf("attempts = %d, want 0", got.Attempts)
	}
	if e.gateway.callCount() != 0 {
		t.Fatalf("gateway calls = %d, want 0", e.gateway.callCount())
	}
}

func TestTickEvaluatesGateOncePerSource(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	for range 3 {
		e.createDue(t, "lead-1")
	}

	if _, err := e.d.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if e.rules.activeCalls != 1 {
		t.Fatalf("rule lookups = %d, want 1 for a single source", e.rules.activeCalls)
	}
}

func TestTickRetriesUntilAttemptsExhausted(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{MaxAttempts: 3})
	e.gateway.result = rejected(http.StatusInternalServerError)
	created := e.createDue(t, "lead-1")

	var failedHook []string
	e.d.WithHooks(nil, func(_ context.Context, entry model.QueueEntry, _ string) error {
		failedHook = append(failedHook, entry.ID)
		return nil
	})

	for attempt := 1; attempt <= 2; attempt++ {
		stats, err := e.d.Tick(context.Background())
		if err != nil {
			t.Fatalf("tick %d: %v", attempt, err)
		}
		if stats.Retried != 1 || stats.Failed != 0 {
			t.Fatalf("tick %d stats = %+v, want retried=1", attempt, stats)
		}

		got := e.entry(t, "lead-1", created.ID)
		if got.Status != model.StatusPending {
			t.Fatalf("tick %d status = %s, want pending", attempt, got.Status)
		}
		if got.Attempts != attempt {
			t.Fatalf("tick %d attempts = %d", attempt, got.Attempts)
		}
		if got.FailureReason != nil {
			t.Fatalf("tick %d failureReason = %q, want unset before terminal", attempt, *got.FailureReason)
		}
	}

	stats, err := e.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("final tick: %v", err)
	}
	if stats.Failed != 1 || stats.Retried != 0 {
		t.Fatalf("final stats = %+v, want failed=1", stats)
	}

	got := e.entry(t, "lead-1", created.ID)
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", got.Attempts)
	}
	if got.FailureReason == nil || !strings.Contains(*got.FailureReason, "gateway status 500") {
		t.Fatalf("failureReason = %v", got.FailureReason)
	}

	if len(failedHook) != 1 || failedHook[0] != created.ID {
		t.Fatalf("failed hook calls = %v, want one on the terminal attempt", failedHook)
	}

	// Exhausted entries are no longer due.
	stats, err = e.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("post-terminal tick: %v", err)
	}
	if stats.Processed != 0 {
		t.Fatalf("post-terminal stats = %+v, want processed=0", stats)
	}
}

func TestTickUnknownLenderFailsImmediately(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{MaxAttempts: 3})
	entry, err := e.queue.Create(context.Background(), repo.CreateEntryRequest{
		LeadID:        "lead-1",
		Phone:         "+36201234567",
		Kind:          model.KindLenderSuccess,
		LenderName:    "ghostbank",
		Priority:      1,
		ScheduledTime: insideWindow.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}

	stats, err := e.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v, want failed=1", stats)
	}

	got := e.entry(t, "lead-1", entry.ID)
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed despite remaining attempts", got.Status)
	}
	if got.FailureReason == nil || !strings.Contains(*got.FailureReason, "render:") {
		t.Fatalf("failureReason = %v", got.FailureReason)
	}
	if e.gateway.callCount() != 0 {
		t.Fatalf("gateway calls = %d, want 0", e.gateway.callCount())
	}
}

func TestTickMissingLeadFailsEntry(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	created := e.createDue(t, "lead-gone")

	stats, err := e.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v, want failed=1", stats)
	}

	got := e.entry(t, "lead-gone", created.ID)
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.FailureReason == nil || *got.FailureReason != "lead not found" {
		t.Fatalf("failureReason = %v", got.FailureReason)
	}
}

func TestTickMissingRuleFailsEntry(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	e.leads.Put(leads.Lead{
		ID:     "lead-2",
		Phone:  "+36207654321",
		Source: "car-loan",
	})
	created := e.createDue(t, "lead-2")

	stats, err := e.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v, want failed=1", stats)
	}

	got := e.entry(t, "lead-2", created.ID)
	if got.FailureReason == nil || !strings.Contains(*got.FailureReason, "no distribution rule") {
		t.Fatalf("failureReason = %v", got.FailureReason)
	}
}

// raceGateway cancels the lead's entries mid-send, simulating an operator
// cancel racing the dispatcher.
type raceGateway struct {
	store  repo.Queue
	leadID string
}

func (r *raceGateway) Send(ctx context.Context, _ string, _ render.Payload) gateway.Result {
	_, _ = r.store.CancelByLead(ctx, r.leadID)
	return accepted()
}

func TestTickCountsCancelRaceAsConflict(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	created := e.createDue(t, "lead-1")
	e.d.gateway = &raceGateway{store: e.queue, leadID: "lead-1"}

	stats, err := e.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if stats.Conflicts != 1 || stats.Sent != 0 {
		t.Fatalf("stats = %+v, want conflicts=1", stats)
	}

	got := e.entry(t, "lead-1", created.ID)
	if got.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want the cancel to stand", got.Status)
	}
}

// blockingGateway holds every send until the context expires.
type blockingGateway struct{}

func (blockingGateway) Send(ctx context.Context, _ string, _ render.Payload) gateway.Result {
	<-ctx.Done()
	return gateway.Result{Body: ctx.Err().Error()}
}

func TestTickEnforcesSendTimeout(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{MaxAttempts: 3, SendTimeout: 30 * time.Millisecond})
	created := e.createDue(t, "lead-1")
	e.d.gateway = blockingGateway{}

	done := make(chan Stats, 1)
	go func() {
		stats, _ := e.d.Tick(context.Background())
		done <- stats
	}()

	select {
	case stats := <-done:
		if stats.Retried != 1 {
			t.Fatalf("stats = %+v, want retried=1", stats)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not return; send timeout not enforced")
	}

	got := e.entry(t, "lead-1", created.ID)
	if got.Status != model.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
}

// limitGateway records the highest number of in-flight sends it observed.
type limitGateway struct {
	mu     sync.Mutex
	active int
	peak   int
}

func (g *limitGateway) Send(_ context.Context, _ string, _ render.Payload) gateway.Result {
	g.mu.Lock()
	g.active++
	if g.active > g.peak {
		g.peak = g.active
	}
	g.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	return accepted()
}

func TestTickBoundsConcurrency(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{Concurrency: 2})
	for range 6 {
		e.createDue(t, "lead-1")
	}

	gw := &limitGateway{}
	e.d.gateway = gw

	stats, err := e.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if stats.Sent != 6 {
		t.Fatalf("stats = %+v, want sent=6", stats)
	}
	if gw.peak > 2 {
		t.Fatalf("peak concurrent sends = %d, want <= 2", gw.peak)
	}
}

func TestTickHonorsBatchSize(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{BatchSize: 2})
	for range 3 {
		e.createDue(t, "lead-1")
	}

	stats, err := e.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if stats.Processed != 2 || stats.Sent != 2 {
		t.Fatalf("first tick stats = %+v, want two entries", stats)
	}

	stats, err = e.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if stats.Processed != 1 || stats.Sent != 1 {
		t.Fatalf("second tick stats = %+v, want the remaining entry", stats)
	}
}

func TestRescheduleFailedReopensEntries(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{MaxAttempts: 1})
	e.gateway.result = rejected(http.StatusBadGateway)
	created := e.createDue(t, "lead-1")

	if _, err := e.d.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := e.entry(t, "lead-1", created.ID); got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}

	// The default bound equals the attempts already burned, so nothing
	// qualifies.
	n, err := e.d.RescheduleFailed(context.Background(), 0)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if n != 0 {
		t.Fatalf("rescheduled = %d, want 0 under the default bound", n)
	}

	n, err = e.d.RescheduleFailed(context.Background(), 2)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if n != 1 {
		t.Fatalf("rescheduled = %d, want 1", n)
	}

	got := e.entry(t, "lead-1", created.ID)
	if got.Status != model.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if !got.ScheduledTime.Equal(insideWindow) {
		t.Fatalf("scheduledTime = %v, want reset to now", got.ScheduledTime)
	}
	if got.FailureReason != nil {
		t.Fatalf("failureReason = %v, want cleared", got.FailureReason)
	}
}
