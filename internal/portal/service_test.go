package portal

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"janseva.org/internal/auth"
	"janseva.org/internal/ledger"
	"janseva.org/internal/registry"
	"janseva.org/internal/stream"
)

var (
	citizen = auth.Actor{Username: "ram", Role: auth.RoleCitizen}
	sita    = auth.Actor{Username: "sita", Role: auth.RoleCitizen}
	officer = auth.Actor{Username: "officer1", Role: auth.RoleOfficer}
	admin   = auth.Actor{Username: "admin", Role: auth.RoleAdministrator}
	ghost   = auth.Actor{Username: "ghost", Role: auth.Role("superuser")}
)

func newPortal(t *testing.T, opts ...Option) (*Service, *registry.InMemory) {
	t.Helper()
	reg := registry.NewInMemory()
	svc := New(reg, ledger.NewInMemory(reg), opts...)
	_, err := svc.AddScheme(context.Background(), admin, registry.NewScheme{
		Name:        "PM-KISAN",
		Description: "Income support of Rs 6000 per year",
		Eligibility: "Small and marginal farmers",
	})
	require.NoError(t, err)
	return svc, reg
}

func form(scheme string) ApplicationForm {
	return ApplicationForm{
		SchemeName: scheme,
		Applicant:  ledger.Applicant{Name: "Ram Kumar", Age: 45, NationalID: "1234-5678-9012", Address: "Rampur"},
	}
}

func TestWorkflowScenario(t *testing.T) {
	svc, reg := newPortal(t)
	ctx := context.Background()

	before, err := svc.ListApplications(ctx, officer, ledger.Filter{})
	require.NoError(t, err)

	app, err := svc.SubmitApplication(ctx, citizen, form("PM-KISAN"), "")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, app.Status)
	assert.Equal(t, int64(len(before)+1), app.ID)
	assert.Equal(t, "ram", app.SubmittedBy)

	after, err := svc.ListApplications(ctx, officer, ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1)

	decided, err := svc.Decide(ctx, officer, app.ID, ledger.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, decided.Status)

	_, err = svc.Decide(ctx, officer, app.ID, ledger.StatusApproved)
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
	got, err := svc.GetApplication(ctx, officer, app.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, got.Status)

	scheme, err := reg.SchemeByName(ctx, "PM-KISAN")
	require.NoError(t, err)
	assert.Equal(t, int64(1), scheme.ApplicationCount)

	stats, err := svc.SchemeStats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalApplications)
}

func TestGateDeniesOtherRoles(t *testing.T) {
	svc, _ := newPortal(t)
	ctx := context.Background()
	newScheme := registry.NewScheme{Name: "PMAY", Description: "d", Eligibility: "e"}

	for _, actor := range []auth.Actor{citizen, officer, ghost} {
		_, err := svc.AddScheme(ctx, actor, newScheme)
		require.ErrorIs(t, err, auth.ErrUnauthorized, "AddScheme as %s", actor.Role)
	}
	for _, actor := range []auth.Actor{officer, admin, ghost} {
		_, err := svc.SubmitApplication(ctx, actor, form("PM-KISAN"), "")
		require.ErrorIs(t, err, auth.ErrUnauthorized, "Submit as %s", actor.Role)
	}
	app, err := svc.SubmitApplication(ctx, citizen, form("PM-KISAN"), "")
	require.NoError(t, err)
	for _, actor := range []auth.Actor{citizen, admin, ghost} {
		_, err := svc.Decide(ctx, actor, app.ID, ledger.StatusApproved)
		require.ErrorIs(t, err, auth.ErrUnauthorized, "Decide as %s", actor.Role)
	}
	for _, actor := range []auth.Actor{citizen, officer, ghost} {
		_, err := svc.SchemeStats(ctx, actor)
		require.ErrorIs(t, err, auth.ErrUnauthorized, "Stats as %s", actor.Role)
	}
	for _, actor := range []auth.Actor{admin, ghost} {
		_, err := svc.ListApplications(ctx, actor, ledger.Filter{})
		require.ErrorIs(t, err, auth.ErrUnauthorized, "List as %s", actor.Role)
	}
	_, err = svc.ListSchemes(ctx, ghost)
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	list, err := svc.ListSchemes(ctx, citizen)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCitizenVisibility(t *testing.T) {
	svc, _ := newPortal(t)
	ctx := context.Background()

	mine, err := svc.SubmitApplication(ctx, citizen, form("PM-KISAN"), "")
	require.NoError(t, err)
	theirs, err := svc.SubmitApplication(ctx, sita, form("PM-KISAN"), "")
	require.NoError(t, err)

	own, err := svc.ListApplications(ctx, citizen, ledger.Filter{SubmittedBy: "sita"})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)

	_, err = svc.GetApplication(ctx, citizen, theirs.ID)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	shared := New(svc.schemes, svc.apps, WithCitizenScope(ScopeAll))
	all, err := shared.ListApplications(ctx, citizen, ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	_, err = shared.GetApplication(ctx, citizen, theirs.ID)
	require.NoError(t, err)
}

func TestAddSchemeValidationLeavesRegistryUntouched(t *testing.T) {
	svc, _ := newPortal(t)
	ctx := context.Background()

	_, err := svc.AddScheme(ctx, admin, registry.NewScheme{Name: "X", Description: "", Eligibility: "e"})
	require.ErrorIs(t, err, registry.ErrInvalidInput)
	_, err = svc.AddScheme(ctx, admin, registry.NewScheme{Name: "pm-kisan", Description: "d", Eligibility: "e"})
	require.ErrorIs(t, err, registry.ErrConflict)

	list, err := svc.ListSchemes(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestIdempotentSubmit(t *testing.T) {
	svc, reg := newPortal(t)
	ctx := context.Background()

	a, err := svc.SubmitApplication(ctx, citizen, form("PM-KISAN"), "click-1")
	require.NoError(t, err)
	b, err := svc.SubmitApplication(ctx, citizen, form("PM-KISAN"), "click-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	scheme, _ := reg.SchemeByName(ctx, "PM-KISAN")
	assert.Equal(t, int64(1), scheme.ApplicationCount)

	_, err = svc.SubmitApplication(ctx, citizen, form("PM-KISAN"), ledger.SeedKeyPrefix+"1")
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
	scheme, _ = reg.SchemeByName(ctx, "PM-KISAN")
	assert.Equal(t, int64(1), scheme.ApplicationCount)
}

// blockingLedger parks Decide until release is closed and counts calls.
type blockingLedger struct {
	ledger.Service
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLedger) Decide(ctx context.Context, id int64, decision ledger.Status, by string) (ledger.Application, error) {
	b.calls.Add(1)
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.Service.Decide(ctx, id, decision, by)
}

func TestDoubleClickDecisionCoalesces(t *testing.T) {
	reg := registry.NewInMemory()
	inner := ledger.NewInMemory(reg)
	blk := &blockingLedger{Service: inner, entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc := New(reg, blk)
	ctx := context.Background()

	_, err := svc.AddScheme(ctx, admin, registry.NewScheme{Name: "PMAY", Description: "d", Eligibility: "e"})
	require.NoError(t, err)
	app, err := svc.SubmitApplication(ctx, citizen, form("PMAY"), "")
	require.NoError(t, err)

	first := svc.DecideAsync(ctx, officer, app.ID, ledger.StatusApproved)
	<-blk.entered
	second := svc.DecideAsync(ctx, officer, app.ID, ledger.StatusApproved)
	// Give the second call time to join the in-flight one.
	time.Sleep(20 * time.Millisecond)
	close(blk.release)

	a, errA := first.Wait(ctx)
	b, errB := second.Wait(ctx)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), blk.calls.Load())
}

// parkingRegistry stores the first scheme, then parks that call until release
// is closed. Later calls pass straight through.
type parkingRegistry struct {
	registry.Service
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (p *parkingRegistry) AddScheme(ctx context.Context, in registry.NewScheme) (registry.Scheme, error) {
	scheme, err := p.Service.AddScheme(ctx, in)
	if p.calls.Add(1) == 1 {
		close(p.entered)
		<-p.release
	}
	return scheme, err
}

func TestConcurrentSchemeAddsByOthersConflict(t *testing.T) {
	inner := registry.NewInMemory()
	reg := &parkingRegistry{Service: inner, entered: make(chan struct{}), release: make(chan struct{})}
	svc := New(reg, ledger.NewInMemory(inner))
	ctx := context.Background()
	admin2 := auth.Actor{Username: "admin2", Role: auth.RoleAdministrator}

	housing := registry.NewScheme{Name: "PMAY", Description: "Housing subsidy", Eligibility: "Urban poor"}
	first := svc.AddSchemeAsync(ctx, admin, housing)
	<-reg.entered

	// Another administrator with a different form is not folded into the
	// in-flight add; it reaches the registry and loses on the name.
	_, err := svc.AddScheme(ctx, admin2, registry.NewScheme{Name: "pmay", Description: "Totally different", Eligibility: "Anyone"})
	require.ErrorIs(t, err, registry.ErrConflict)

	// The same form from another administrator conflicts too.
	_, err = svc.AddScheme(ctx, admin2, housing)
	require.ErrorIs(t, err, registry.ErrConflict)

	// A double click by the first administrator joins the in-flight add.
	again := svc.AddSchemeAsync(ctx, admin, registry.NewScheme{Name: " PMAY ", Description: "Housing subsidy ", Eligibility: "Urban poor"})
	time.Sleep(20 * time.Millisecond)
	close(reg.release)

	a, errA := first.Wait(ctx)
	b, errB := again.Wait(ctx)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
	assert.Equal(t, "admin", a.CreatedBy)
	assert.Equal(t, int32(3), reg.calls.Load())

	list, err := svc.ListSchemes(ctx, admin)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Housing subsidy", list[0].Description)
}

func TestConcurrentDecisionsByTwoOfficers(t *testing.T) {
	reg := registry.NewInMemory()
	inner := ledger.NewInMemory(reg)
	blk := &blockingLedger{Service: inner, entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc := New(reg, blk)
	ctx := context.Background()
	officer2 := auth.Actor{Username: "officer2", Role: auth.RoleOfficer}

	_, err := svc.AddScheme(ctx, admin, registry.NewScheme{Name: "PMAY", Description: "d", Eligibility: "e"})
	require.NoError(t, err)
	app, err := svc.SubmitApplication(ctx, citizen, form("PMAY"), "")
	require.NoError(t, err)

	first := svc.DecideAsync(ctx, officer, app.ID, ledger.StatusApproved)
	<-blk.entered
	second := svc.DecideAsync(ctx, officer2, app.ID, ledger.StatusApproved)
	time.Sleep(20 * time.Millisecond)
	close(blk.release)

	// Both reach the ledger; exactly one decides and the other conflicts.
	a, errA := first.Wait(ctx)
	b, errB := second.Wait(ctx)
	assert.Equal(t, int32(2), blk.calls.Load())
	if errA == nil {
		require.ErrorIs(t, errB, ledger.ErrInvalidTransition)
		assert.Equal(t, "officer1", a.DecidedBy)
	} else {
		require.ErrorIs(t, errA, ledger.ErrInvalidTransition)
		require.NoError(t, errB)
		assert.Equal(t, "officer2", b.DecidedBy)
	}
}

func TestMutationSurvivesWaiterCancellation(t *testing.T) {
	reg := registry.NewInMemory()
	inner := ledger.NewInMemory(reg)
	blk := &blockingLedger{Service: inner, entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc := New(reg, blk)
	bg := context.Background()

	_, err := svc.AddScheme(bg, admin, registry.NewScheme{Name: "PMAY", Description: "d", Eligibility: "e"})
	require.NoError(t, err)
	app, err := svc.SubmitApplication(bg, citizen, form("PMAY"), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(bg)
	fut := svc.DecideAsync(ctx, officer, app.ID, ledger.StatusRejected)
	<-blk.entered
	cancel()
	_, err = fut.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	close(blk.release)
	select {
	case <-fut.Done():
	case <-time.After(time.Second):
		t.Fatal("mutation did not complete")
	}
	got, err := inner.Get(bg, app.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, got.Status)
}

func TestConcurrentCitizens(t *testing.T) {
	svc, reg := newPortal(t)
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitApplication(ctx, citizen, form("PM-KISAN"), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	scheme, err := reg.SchemeByName(ctx, "PM-KISAN")
	require.NoError(t, err)
	assert.Equal(t, int64(n), scheme.ApplicationCount)
}

func TestEventsFollowVisibility(t *testing.T) {
	events := stream.New()
	svc, _ := newPortal(t, WithStream(events))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sitaCh, err := svc.Subscribe(ctx, sita)
	require.NoError(t, err)
	officerCh, err := svc.Subscribe(ctx, officer)
	require.NoError(t, err)

	app, err := svc.SubmitApplication(ctx, citizen, form("PM-KISAN"), "")
	require.NoError(t, err)
	_, err = svc.Decide(ctx, officer, app.ID, ledger.StatusApproved)
	require.NoError(t, err)

	for _, want := range []stream.Kind{stream.KindApplicationSubmitted, stream.KindApplicationDecided} {
		select {
		case evt := <-officerCh:
			assert.Equal(t, want, evt.Kind)
			assert.Equal(t, app.ID, evt.ApplicationID)
		case <-time.After(time.Second):
			t.Fatalf("officer missed %s", want)
		}
	}
	select {
	case evt := <-sitaCh:
		t.Fatalf("sita should not see ram's application events, got %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	assert.True(t, svc.Visible(citizen, stream.Event{Kind: stream.KindApplicationDecided, SubmittedBy: "ram"}))
	assert.True(t, svc.Visible(admin, stream.Event{Kind: stream.KindSchemeCreated}))
	assert.False(t, svc.Visible(admin, stream.Event{Kind: stream.KindApplicationDecided, SubmittedBy: "ram"}))
	_, err = svc.Subscribe(ctx, ghost)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestParseCitizenScope(t *testing.T) {
	for in, want := range map[string]CitizenScope{"": ScopeOwn, "own": ScopeOwn, " ALL ": ScopeAll} {
		got, err := ParseCitizenScope(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCitizenScope("some")
	require.Error(t, err)
}
