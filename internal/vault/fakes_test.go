package vault

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tidewater-labs/reservoir/internal/domain"
)

// fakeVenue is an in-memory venue with a per-bucket claim-unit price. Claim
// units convert to quote value at priceRay/1e27, so tests can model both 1:1
// buckets and appreciating or lossy ones.
type fakeVenue struct {
	mu sync.Mutex

	// priceRay maps bucket to RAY-scaled quote value per claim unit.
	priceRay map[domain.BucketID]*big.Int
	// totals maps bucket to venue-wide outstanding claim units.
	totals map[domain.BucketID]*big.Int
	// vaultClaim maps bucket to the venue's authoritative view of this
	// vault's claim units, updated by the liquidity primitives.
	vaultClaim map[domain.BucketID]*big.Int

	accruals int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		priceRay:   make(map[domain.BucketID]*big.Int),
		totals:     make(map[domain.BucketID]*big.Int),
		vaultClaim: make(map[domain.BucketID]*big.Int),
	}
}

var ray = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

func (v *fakeVenue) setPrice(bucket domain.BucketID, priceRay *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.priceRay[bucket] = new(big.Int).Set(priceRay)
}

func (v *fakeVenue) setTotals(bucket domain.BucketID, units *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.totals[bucket] = new(big.Int).Set(units)
}

// loseClaim simulates a venue-side loss event by shrinking the venue's
// recorded vault claim without telling the engine.
func (v *fakeVenue) loseClaim(bucket domain.BucketID, units *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vaultClaim[bucket] = new(big.Int).Set(units)
}

func (v *fakeVenue) price(bucket domain.BucketID) *big.Int {
	if p, ok := v.priceRay[bucket]; ok {
		return p
	}
	return ray // 1:1 by default
}

func (v *fakeVenue) AccrueInterest(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accruals++
	return nil
}

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
	return domain.LiquidityResult{
		ClaimUnits: units,
		QuoteValue: new(big.Int).Set(quoteValue),
	}, nil
}

func (v *fakeVenue) RemoveLiquidity(_ context.Context, bucket domain.BucketID, claimUnits *big.Int) (domain.LiquidityResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value := new(big.Int).Mul(claimUnits, v.price(bucket))
	value.Quo(value, ray)
	v.bump(bucket, new(big.Int).Neg(claimUnits))
	return domain.LiquidityResult{
		ClaimUnits: new(big.Int).Set(claimUnits),
		QuoteValue: value,
	}, nil
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

func (v *fakeVenue) ReturnCollateral(context.Context, domain.BucketID, *big.Int) error {
	return nil
}

// bump adjusts both the venue-wide totals and this vault's recorded claim.
// Callers hold v.mu.
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
	mu sync.Mutex

	roles    map[domain.Holder]map[domain.Role]bool
	numerics domain.PolicyNumerics
	paused   bool
}

func newFakePolicy() *fakePolicy {
	return &fakePolicy{
		roles: make(map[domain.Holder]map[domain.Role]bool),
		numerics: domain.PolicyNumerics{
			EntryCapacity: maxCapacity(),
		},
	}
}

func maxCapacity() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
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
		n.EntryCapacity = maxCapacity()
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

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	keeper = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	handlr = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	sink   = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

func testConfig() Config {
	return Config{
		AssetDecimals:      6,
		DustFloor:          big.NewInt(1_000_000), // 1e6 WAD units
		MinSafeBucketUnits: big.NewInt(1_000_000_000),
		FeeSink:            sink,
	}
}

func newTestEngine() (*Engine, *fakeVenue, *fakePolicy) {
	venue := newFakeVenue()
	policy := newFakePolicy()
	policy.grant(keeper, domain.RoleKeeper)
	policy.grant(handlr, domain.RoleExceptionHandler)
	return New(testConfig(), venue, policy), venue, policy
}
