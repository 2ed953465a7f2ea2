package service

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/notify"
	"github.com/tidewater-labs/reservoir/internal/vault"
)

var (
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	keeperAddr = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	handlr     = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	feeSink    = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

var ray = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

func mustWad(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// fakeVenue prices claim units at priceRay/1e27 quote per unit, 1:1 by
// default.
type fakeVenue struct {
	mu         sync.Mutex
	priceRay   map[domain.BucketID]*big.Int
	totals     map[domain.BucketID]*big.Int
	vaultClaim map[domain.BucketID]*big.Int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		priceRay:   make(map[domain.BucketID]*big.Int),
		totals:     make(map[domain.BucketID]*big.Int),
		vaultClaim: make(map[domain.BucketID]*big.Int),
	}
}

func (v *fakeVenue) loseClaim(bucket domain.BucketID, units *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vaultClaim[bucket] = new(big.Int).Set(units)
}

func (v *fakeVenue) price(bucket domain.BucketID) *big.Int {
	if p, ok := v.priceRay[bucket]; ok {
		return p
	}
	return ray
}

func (v *fakeVenue) AccrueInterest(context.Context) error { return nil }

func (v *fakeVenue) BucketTotals(_ context.Context, bucket domain.BucketID) (domain.BucketTotals, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := domain.BucketTotals{
		Bucket:          bucket,
		ClaimUnits:      new(big.Int),
		QuoteValue:      new(big.Int),
		CollateralValue: new(big.Int),
		VaultClaim:      new(big.Int),
	}
	if u, ok := v.totals[bucket]; ok {
		t.ClaimUnits.Set(u)
	}
	if c, ok := v.vaultClaim[bucket]; ok {
		t.VaultClaim.Set(c)
	}
	return t, nil
}

func (v *fakeVenue) VaultClaimValue(_ context.Context, bucket domain.BucketID, claimUnits *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := new(big.Int).Mul(claimUnits, v.price(bucket))
	return out.Quo(out, ray), nil
}

func (v *fakeVenue) AddLiquidity(_ context.Context, bucket domain.BucketID, quoteValue *big.Int) (domain.LiquidityResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	units := new(big.Int).Mul(quoteValue, ray)
	units.Quo(units, v.price(bucket))
	v.bump(bucket, units)
	return domain.LiquidityResult{ClaimUnits: units, QuoteValue: new(big.Int).Set(quoteValue)}, nil
}

func (v *fakeVenue) RemoveLiquidity(_ context.Context, bucket domain.BucketID, claimUnits *big.Int) (domain.LiquidityResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value := new(big.Int).Mul(claimUnits, v.price(bucket))
	value.Quo(value, ray)
	v.bump(bucket, new(big.Int).Neg(claimUnits))
	return domain.LiquidityResult{ClaimUnits: new(big.Int).Set(claimUnits), QuoteValue: value}, nil
}

func (v *fakeVenue) MoveLiquidity(ctx context.Context, from, to domain.BucketID, claimUnits *big.Int) (domain.LiquidityResult, domain.LiquidityResult, error) {
	burned, err := v.RemoveLiquidity(ctx, from, claimUnits)
	if err != nil {
		return domain.LiquidityResult{}, domain.LiquidityResult{}, err
	}
	minted, err := v.AddLiquidity(ctx, to, burned.QuoteValue)
	if err != nil {
		return domain.LiquidityResult{}, domain.LiquidityResult{}, err
	}
	return burned, minted, nil
}

func (v *fakeVenue) RemoveCollateral(_ context.Context, bucket domain.BucketID, claimUnits *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value := new(big.Int).Mul(claimUnits, v.price(bucket))
	return value.Quo(value, ray), nil
}

func (v *fakeVenue) ReturnCollateral(context.Context, domain.BucketID, *big.Int) error { return nil }

func (v *fakeVenue) bump(bucket domain.BucketID, delta *big.Int) {
	for _, m := range []map[domain.BucketID]*big.Int{v.totals, v.vaultClaim} {
		cur, ok := m[bucket]
		if !ok {
			cur = new(big.Int)
			m[bucket] = cur
		}
		cur.Add(cur, delta)
	}
}

// fakePolicy is an in-memory policy store.
type fakePolicy struct {
	mu       sync.Mutex
	roles    map[domain.Holder]map[domain.Role]bool
	numerics domain.PolicyNumerics
	paused   bool
}

func newFakePolicy() *fakePolicy {
	return &fakePolicy{
		roles: make(map[domain.Holder]map[domain.Role]bool),
		numerics: domain.PolicyNumerics{
			EntryCapacity: new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil),
		},
	}
}

func (p *fakePolicy) grant(holder domain.Holder, role domain.Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roles[holder] == nil {
		p.roles[holder] = make(map[domain.Role]bool)
	}
	p.roles[holder][role] = true
}

func (p *fakePolicy) setNumerics(n domain.PolicyNumerics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n.EntryCapacity == nil {
		n.EntryCapacity = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	}
	p.numerics = n
}

func (p *fakePolicy) setPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
}

func (p *fakePolicy) HasRole(_ context.Context, holder domain.Holder, role domain.Role) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roles[holder][role], nil
}

func (p *fakePolicy) Numerics(context.Context) (domain.PolicyNumerics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.numerics
	n.EntryCapacity = new(big.Int).Set(p.numerics.EntryCapacity)
	return n, nil
}

func (p *fakePolicy) RemainingEntryCapacity(_ context.Context, _ domain.Holder) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.numerics.EntryCapacity), nil
}

func (p *fakePolicy) Paused(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused, nil
}

// memJournal is an in-memory JournalStore.
type memJournal struct {
	mu      sync.Mutex
	entries []domain.JournalEntry
}

func (m *memJournal) Append(_ context.Context, entry domain.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memJournal) GetByID(_ context.Context, id string) (domain.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.JournalEntry{}, domain.ErrNotFound
}

func (m *memJournal) List(_ context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.JournalEntry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0; i-- {
		out = append(out, m.entries[i])
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (m *memJournal) ListByKind(ctx context.Context, kind domain.OpKind, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	all, _ := m.List(ctx, domain.ListOpts{})
	var out []domain.JournalEntry
	for _, e := range all {
		if e.Kind != kind {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (m *memJournal) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range m.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memJournal) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []domain.JournalEntry
	var deleted int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return deleted, nil
}

func (m *memJournal) byKind(kind domain.OpKind) []domain.JournalEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range m.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// memSnapshots is an in-memory SnapshotStore.
type memSnapshots struct {
	mu    sync.Mutex
	saved []domain.Snapshot
}

func (m *memSnapshots) Save(_ context.Context, snap domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, snap)
	return nil
}

func (m *memSnapshots) Latest(context.Context) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return m.saved[len(m.saved)-1], nil
}

func (m *memSnapshots) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

// memValuations is an in-memory ValuationCache.
type memValuations struct {
	mu   sync.Mutex
	rows map[domain.BucketID]domain.BucketValuation
}

func newMemValuations() *memValuations {
	return &memValuations{rows: make(map[domain.BucketID]domain.BucketValuation)}
}

func (m *memValuations) Set(_ context.Context, v domain.BucketValuation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[v.Bucket] = v
	return nil
}

func (m *memValuations) Get(_ context.Context, bucket domain.BucketID) (domain.BucketValuation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[bucket]
	if !ok {
		return domain.BucketValuation{}, domain.ErrNotFound
	}
	return v, nil
}

func (m *memValuations) GetMany(_ context.Context, buckets []domain.BucketID) (map[domain.BucketID]domain.BucketValuation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.BucketID]domain.BucketValuation)
	for _, b := range buckets {
		if v, ok := m.rows[b]; ok {
			out[b] = v
		}
	}
	return out, nil
}

func (m *memValuations) Invalidate(_ context.Context, bucket domain.BucketID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, bucket)
	return nil
}

// fakeLocks hands the lock out unless held is set.
type fakeLocks struct {
	mu       sync.Mutex
	held     bool
	acquired int
}

func (f *fakeLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, domain.ErrLockActive
	}
	f.acquired++
	return func() {}, nil
}

// recordingSender captures notification titles for assertions.
type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

// recordingSink captures broadcast events.
type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

type sinkEvent struct {
	channel string
	payload any
}

func (r *recordingSink) Broadcast(channel string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sinkEvent{channel: channel, payload: payload})
}

func (r *recordingSink) channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.channel
	}
	return out
}

// testEnv bundles a service over a real engine with in-memory hosts.
type testEnv struct {
	svc        *VaultService
	engine     *vault.Engine
	venue      *fakeVenue
	policy     *fakePolicy
	journal    *memJournal
	snapshots  *memSnapshots
	valuations *memValuations
	sender     *recordingSender
}

func newTestEnv() *testEnv {
	venue := newFakeVenue()
	policy := newFakePolicy()
	policy.grant(keeperAddr, domain.RoleKeeper)
	policy.grant(handlr, domain.RoleExceptionHandler)

	engine := vault.New(vault.Config{
		AssetDecimals:      6,
		DustFloor:          big.NewInt(1_000_000),
		MinSafeBucketUnits: big.NewInt(1_000_000_000),
		FeeSink:            feeSink,
	}, venue, policy)

	journal := &memJournal{}
	snapshots := &memSnapshots{}
	valuations := newMemValuations()
	sender := &recordingSender{}
	logger := slog.New(slog.DiscardHandler)
	notifier := notify.NewNotifier([]notify.Sender{sender}, nil, logger)

	svc := NewVaultService(engine, journal, snapshots, valuations, venue, notifier, logger)
	return &testEnv{
		svc:        svc,
		engine:     engine,
		venue:      venue,
		policy:     policy,
		journal:    journal,
		snapshots:  snapshots,
		valuations: valuations,
		sender:     sender,
	}
}
