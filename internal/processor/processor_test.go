package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtimebid/auctionserver/internal/cache"
	"github.com/realtimebid/auctionserver/internal/store"
	"github.com/realtimebid/auctionserver/types"
)

type fakeAuctions struct {
	mu       sync.Mutex
	auctions map[int]types.Auction
}

func newFakeAuctions(auctions ...types.Auction) *fakeAuctions {
	f := &fakeAuctions{auctions: make(map[int]types.Auction)}
	for _, a := range auctions {
		f.auctions[a.ID] = a
	}
	return f
}

func (f *fakeAuctions) FindByID(ctx context.Context, id int) (types.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[id]
	if !ok {
		return types.Auction{}, store.ErrNotFound
	}
	return a, nil
}

type fakeUsers struct {
	users map[int]types.User
}

func (f *fakeUsers) GetByID(ctx context.Context, id int) (types.User, error) {
	u, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

type fakeBids struct {
	mu          sync.Mutex
	created     []types.Bid
	nextID      int
	markedOutbid []int
}

func (f *fakeBids) Create(ctx context.Context, bid types.Bid) (types.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	bid.ID = f.nextID
	f.created = append(f.created, bid)
	return bid, nil
}

func (f *fakeBids) MarkOutbid(ctx context.Context, auctionID int, newWinningBidID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedOutbid = append(f.markedOutbid, newWinningBidID)
	return nil
}

// fakeUnitOfWork plays the role of *store.UnitOfWork against the other
// fakes: it snapshots fakeAuctions/fakeBids state before running fn and
// restores it if fn returns an error, so a conditional-update conflict
// rolls the insert and sweep back the same way the real BidTxRunner does.
type fakeUnitOfWork struct {
	auctions *fakeAuctions
	bids     *fakeBids
}

func newFakeUnitOfWork(auctions *fakeAuctions, bids *fakeBids) *fakeUnitOfWork {
	return &fakeUnitOfWork{auctions: auctions, bids: bids}
}

func (u *fakeUnitOfWork) RunBidTx(ctx context.Context, fn func(store.BidTx) error) error {
	u.auctions.mu.Lock()
	auctionsSnapshot := make(map[int]types.Auction, len(u.auctions.auctions))
	for k, v := range u.auctions.auctions {
		auctionsSnapshot[k] = v
	}
	u.auctions.mu.Unlock()

	u.bids.mu.Lock()
	createdSnapshot := append([]types.Bid(nil), u.bids.created...)
	markedSnapshot := append([]int(nil), u.bids.markedOutbid...)
	nextIDSnapshot := u.bids.nextID
	u.bids.mu.Unlock()

	if err := fn(&fakeBidTx{auctions: u.auctions, bids: u.bids}); err != nil {
		u.auctions.mu.Lock()
		u.auctions.auctions = auctionsSnapshot
		u.auctions.mu.Unlock()

		u.bids.mu.Lock()
		u.bids.created = createdSnapshot
		u.bids.markedOutbid = markedSnapshot
		u.bids.nextID = nextIDSnapshot
		u.bids.mu.Unlock()
		return err
	}
	return nil
}

type fakeBidTx struct {
	auctions *fakeAuctions
	bids     *fakeBids
}

func (t *fakeBidTx) CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error) {
	return t.bids.Create(ctx, bid)
}

func (t *fakeBidTx) MarkOutbid(ctx context.Context, auctionID int, newWinningBidID int) error {
	return t.bids.MarkOutbid(ctx, auctionID, newWinningBidID)
}

func (t *fakeBidTx) ConditionalUpdateHighestBid(ctx context.Context, id int, observedHighest, newAmount int64, winnerID int) (types.Auction, error) {
	t.auctions.mu.Lock()
	defer t.auctions.mu.Unlock()
	a, ok := t.auctions.auctions[id]
	if !ok {
		return types.Auction{}, store.ErrNotFound
	}
	if a.CurrentHighestBid != observedHighest {
		return types.Auction{}, store.ErrConflict
	}
	a.CurrentHighestBid = newAmount
	a.BidCount++
	a.WinnerID = &winnerID
	t.auctions.auctions[id] = a
	return a, nil
}

type fakeLocker struct {
	mu     sync.Mutex
	held   map[int]bool
	locks  map[*cache.Lock]int
	failOn int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[int]bool), locks: make(map[*cache.Lock]int)}
}

func (f *fakeLocker) AcquireLock(ctx context.Context, auctionID int) (*cache.Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[auctionID] {
		return nil, cache.ErrLockHeld
	}
	f.held[auctionID] = true
	lock := &cache.Lock{}
	f.locks[lock] = auctionID
	return lock, nil
}

func (f *fakeLocker) Release(ctx context.Context, lock *cache.Lock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if auctionID, ok := f.locks[lock]; ok {
		delete(f.held, auctionID)
		delete(f.locks, lock)
	}
	return nil
}

func (f *fakeLocker) Extend(ctx context.Context, lock *cache.Lock) error {
	return nil
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: make(map[string]bool)}
}

func (f *fakeDedup) SeenBid(ctx context.Context, auctionID int, dedupKey string, window time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := dedupKey
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	snapshots [][]byte
	bidEvents [][]byte
	notifs    [][]byte
}

func (f *fakePublisher) PublishAuctionBid(ctx context.Context, auctionID int, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bidEvents = append(f.bidEvents, payload)
	return nil
}

func (f *fakePublisher) PublishGlobalNotification(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifs = append(f.notifs, payload)
	return nil
}

func (f *fakePublisher) SetSnapshot(ctx context.Context, auctionID int, payload []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, payload)
	return nil
}

type fakeQueue struct {
	mu        sync.Mutex
	published []string
}

func (f *fakeQueue) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, channel)
	return "msg-id", nil
}

func activeAuction(id int, highest int64) types.Auction {
	now := time.Now()
	return types.Auction{
		ID:                id,
		StartingBid:       highest,
		CurrentHighestBid: highest,
		StartTime:         now.Add(-time.Hour),
		EndTime:           now.Add(time.Hour),
		Status:            types.AuctionActive,
	}
}

func newTestProcessor(auctions *fakeAuctions, users *fakeUsers, bids *fakeBids, locker *fakeLocker, dedup *fakeDedup, pub *fakePublisher, queue *fakeQueue) *Processor {
	return New(auctions, users, newFakeUnitOfWork(auctions, bids), locker, dedup, pub, queue)
}

func TestProcessEnvelope_AcceptsValidBid(t *testing.T) {
	auctions := newFakeAuctions(activeAuction(1, 1000))
	users := &fakeUsers{users: map[int]types.User{7: {ID: 7, Username: "bob"}}}
	bids := &fakeBids{}
	p := newTestProcessor(auctions, users, bids, newFakeLocker(), newFakeDedup(), &fakePublisher{}, &fakeQueue{})

	bid, err := p.ProcessEnvelope(context.Background(), types.BidEnvelope{
		AuctionID: 1,
		UserID:    7,
		Username:  "bob",
		Amount:    1100,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(1100), bid.Amount)
	assert.True(t, bid.IsWinning)

	updated, err := auctions.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), updated.CurrentHighestBid)
	assert.Equal(t, 1, updated.BidCount)
}

func TestProcessEnvelope_RejectsBelowMinimumIncrement(t *testing.T) {
	auctions := newFakeAuctions(activeAuction(1, 1000))
	users := &fakeUsers{users: map[int]types.User{7: {ID: 7}}}
	p := newTestProcessor(auctions, users, &fakeBids{}, newFakeLocker(), newFakeDedup(), &fakePublisher{}, &fakeQueue{})

	_, err := p.ProcessEnvelope(context.Background(), types.BidEnvelope{
		AuctionID: 1,
		UserID:    7,
		Amount:    1050, // below 1000 + MinimumIncrement
	})

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, RejectionBelowMinimum, rejected.Reason)
}

func TestProcessEnvelope_RejectsUnknownAuction(t *testing.T) {
	p := newTestProcessor(newFakeAuctions(), &fakeUsers{users: map[int]types.User{}}, &fakeBids{}, newFakeLocker(), newFakeDedup(), &fakePublisher{}, &fakeQueue{})

	_, err := p.ProcessEnvelope(context.Background(), types.BidEnvelope{AuctionID: 99, UserID: 1, Amount: 500})

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, RejectionAuctionNotFound, rejected.Reason)
}

func TestProcessEnvelope_RejectsEndedAuction(t *testing.T) {
	now := time.Now()
	auction := activeAuction(1, 1000)
	auction.EndTime = now.Add(-time.Minute)
	p := newTestProcessor(newFakeAuctions(auction), &fakeUsers{users: map[int]types.User{7: {ID: 7}}}, &fakeBids{}, newFakeLocker(), newFakeDedup(), &fakePublisher{}, &fakeQueue{})

	_, err := p.ProcessEnvelope(context.Background(), types.BidEnvelope{AuctionID: 1, UserID: 7, Amount: 1200})

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, RejectionEnded, rejected.Reason)
}

func TestProcessEnvelope_RejectsNotYetStartedAuction(t *testing.T) {
	now := time.Now()
	auction := activeAuction(1, 1000)
	auction.StartTime = now.Add(time.Hour)
	p := newTestProcessor(newFakeAuctions(auction), &fakeUsers{users: map[int]types.User{7: {ID: 7}}}, &fakeBids{}, newFakeLocker(), newFakeDedup(), &fakePublisher{}, &fakeQueue{})

	_, err := p.ProcessEnvelope(context.Background(), types.BidEnvelope{AuctionID: 1, UserID: 7, Amount: 1200})

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, RejectionNotStarted, rejected.Reason)
}

func TestProcessEnvelope_RejectsUnknownUser(t *testing.T) {
	p := newTestProcessor(newFakeAuctions(activeAuction(1, 1000)), &fakeUsers{users: map[int]types.User{}}, &fakeBids{}, newFakeLocker(), newFakeDedup(), &fakePublisher{}, &fakeQueue{})

	_, err := p.ProcessEnvelope(context.Background(), types.BidEnvelope{AuctionID: 1, UserID: 42, Amount: 1200})

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, RejectionUserNotFound, rejected.Reason)
}

func TestProcessEnvelope_RejectsDuplicateSubmission(t *testing.T) {
	auctions := newFakeAuctions(activeAuction(1, 1000))
	users := &fakeUsers{users: map[int]types.User{7: {ID: 7}}}
	p := newTestProcessor(auctions, users, &fakeBids{}, newFakeLocker(), newFakeDedup(), &fakePublisher{}, &fakeQueue{})

	envelope := types.BidEnvelope{ClientRequestID: "dup-1", AuctionID: 1, UserID: 7, Amount: 1200}

	_, err := p.ProcessEnvelope(context.Background(), envelope)
	require.NoError(t, err)

	_, err = p.ProcessEnvelope(context.Background(), envelope)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, RejectionDuplicate, rejected.Reason)
}

func TestProcessEnvelope_SweepsPreviousWinnerToOutbid(t *testing.T) {
	auctions := newFakeAuctions(activeAuction(1, 1000))
	users := &fakeUsers{users: map[int]types.User{7: {ID: 7, Username: "bob"}, 8: {ID: 8, Username: "carol"}}}
	bids := &fakeBids{}
	p := newTestProcessor(auctions, users, bids, newFakeLocker(), newFakeDedup(), &fakePublisher{}, &fakeQueue{})

	_, err := p.ProcessEnvelope(context.Background(), types.BidEnvelope{AuctionID: 1, UserID: 7, Amount: 1100})
	require.NoError(t, err)

	secondBid, err := p.ProcessEnvelope(context.Background(), types.BidEnvelope{AuctionID: 1, UserID: 8, Amount: 1300})
	require.NoError(t, err)

	require.Len(t, bids.markedOutbid, 2)
	assert.Equal(t, secondBid.ID, bids.markedOutbid[1])
}

func TestProcessEnvelope_ConcurrentBidsOnSameAuctionAreSerialized(t *testing.T) {
	auctions := newFakeAuctions(activeAuction(1, 1000))
	users := &fakeUsers{users: map[int]types.User{7: {ID: 7}, 8: {ID: 8}}}
	bids := &fakeBids{}
	locker := newFakeLocker()
	p := newTestProcessor(auctions, users, bids, locker, newFakeDedup(), &fakePublisher{}, &fakeQueue{})

	// Whichever of these two bids the lock admits second can only win if
	// it clears the first bid's new highest by the minimum increment, so
	// exactly which one(s) succeed is scheduling-dependent; what this test
	// checks is the invariant the lock exists to guarantee: the two writes
	// never interleave into a state inconsistent with whatever sequence of
	// acceptances actually happened.
	var wg sync.WaitGroup
	results := make([]error, 2)
	amounts := []int64{2000, 5000}
	userIDs := []int{7, 8}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.ProcessEnvelope(context.Background(), types.BidEnvelope{
				AuctionID: 1, UserID: userIDs[i], Amount: amounts[i],
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	acceptedCount := 0
	maxAccepted := int64(0)
	for i, err := range results {
		if err == nil {
			acceptedCount++
			if amounts[i] > maxAccepted {
				maxAccepted = amounts[i]
			}
		}
	}
	require.GreaterOrEqual(t, acceptedCount, 1, "at least the first bid admitted by the lock must succeed")

	final, err := auctions.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, maxAccepted, final.CurrentHighestBid)
	assert.Equal(t, acceptedCount, final.BidCount)
	assert.Len(t, bids.markedOutbid, acceptedCount)
}

func TestProcessEnvelope_ConflictAtHighestBidUpdateRollsBackInsertAndSweep(t *testing.T) {
	auctions := newFakeAuctions(activeAuction(1, 1000))
	users := &fakeUsers{users: map[int]types.User{7: {ID: 7, Username: "bob"}}}
	bids := &fakeBids{}
	uow := newFakeUnitOfWork(auctions, bids)

	// Simulate another worker's write landing between the Processor's
	// read of the auction and the conditional update inside RunBidTx, the
	// lock-TTL-expiry race called out in spec.md §5.
	err := uow.RunBidTx(context.Background(), func(tx store.BidTx) error {
		_, err := tx.ConditionalUpdateHighestBid(context.Background(), 1, 1000, 1200, 99)
		return err
	})
	require.NoError(t, err)

	// The Processor's step-2 read comes from a store that still holds the
	// pre-race auction state (highest bid 1000), standing in for a read
	// taken before the racer's write landed; its conditional update then
	// runs against the already-advanced 1200 and conflicts.
	staleReads := newFakeAuctions(activeAuction(1, 1000))
	p := New(staleReads, users, uow, newFakeLocker(), newFakeDedup(), &fakePublisher{}, &fakeQueue{})
	_, err = p.ProcessEnvelope(context.Background(), types.BidEnvelope{
		AuctionID: 1, UserID: 7, Amount: 1100,
	})

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, RejectionBelowHighest, rejected.Reason)

	assert.Empty(t, bids.created, "the insert from the losing transaction must be rolled back")
	assert.Empty(t, bids.markedOutbid, "the sweep from the losing transaction must be rolled back")

	final, err := auctions.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), final.CurrentHighestBid, "the winning racer's write must survive untouched")
}
