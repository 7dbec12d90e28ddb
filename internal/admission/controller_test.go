package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtimebid/auctionserver/config"
)

// fakeTracker mirrors cache.Client's set-of-socketIds tracking: each
// address/identity maps to the set of socketIds currently admitted
// under it, so a repeated Untrack for the same socketId is a no-op
// rather than driving a counter negative.
type fakeTracker struct {
	mu      sync.Mutex
	members map[string]map[string]bool
	blocked map[string]bool
	failing bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{members: make(map[string]map[string]bool), blocked: make(map[string]bool)}
}

func (f *fakeTracker) AddressCount(ctx context.Context, address string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return 0, errors.New("cache unavailable")
	}
	return int64(len(f.members["address:"+address])), nil
}

func (f *fakeTracker) TrackAddress(ctx context.Context, address, socketID string, window time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.add("address:"+address, socketID)
	return nil
}

func (f *fakeTracker) UntrackAddress(ctx context.Context, address, socketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remove("address:"+address, socketID)
	return nil
}

func (f *fakeTracker) IdentityCount(ctx context.Context, identity string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return 0, errors.New("cache unavailable")
	}
	return int64(len(f.members["identity:"+identity])), nil
}

func (f *fakeTracker) TrackIdentity(ctx context.Context, identity, socketID string, window time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.add("identity:"+identity, socketID)
	return nil
}

func (f *fakeTracker) UntrackIdentity(ctx context.Context, identity, socketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remove("identity:"+identity, socketID)
	return nil
}

func (f *fakeTracker) add(key, socketID string) {
	set, ok := f.members[key]
	if !ok {
		set = make(map[string]bool)
		f.members[key] = set
	}
	set[socketID] = true
}

func (f *fakeTracker) remove(key, socketID string) {
	delete(f.members[key], socketID)
}

func (f *fakeTracker) IsBlocked(ctx context.Context, kind, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return false, errors.New("cache unavailable")
	}
	return f.blocked[kind+":"+value], nil
}

func (f *fakeTracker) Block(ctx context.Context, kind, value string, duration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[kind+":"+value] = true
	return nil
}

func (f *fakeTracker) Unblock(ctx context.Context, kind, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blocked, kind+":"+value)
	return nil
}

func testConfig() config.AdmissionConfig {
	return config.AdmissionConfig{
		MaxPerAddress:  2,
		MaxPerIdentity: 1,
		TrackingWindow: time.Minute,
		BlockDuration:  time.Minute,
	}
}

func TestController_AllowsWithinLimits(t *testing.T) {
	c := New(newFakeTracker(), testConfig())

	decision := c.Check(context.Background(), "1.2.3.4", "")
	assert.True(t, decision.Allowed)
}

func TestController_BlocksAddressOverLimit(t *testing.T) {
	tracker := newFakeTracker()
	c := New(tracker, testConfig())

	c.Track(context.Background(), "1.2.3.4", "", "socket-1")
	c.Track(context.Background(), "1.2.3.4", "", "socket-2")

	decision := c.Check(context.Background(), "1.2.3.4", "")
	require.False(t, decision.Allowed)
	assert.Equal(t, ReasonAddressLimit, decision.Reason)
}

func TestController_BlocksIdentityOverLimit(t *testing.T) {
	tracker := newFakeTracker()
	c := New(tracker, testConfig())

	c.Track(context.Background(), "1.2.3.4", "user-1", "socket-1")

	decision := c.Check(context.Background(), "5.6.7.8", "user-1")
	require.False(t, decision.Allowed)
	assert.Equal(t, ReasonIdentityLimit, decision.Reason)
}

func TestController_SubsequentCheckSeesBlock(t *testing.T) {
	tracker := newFakeTracker()
	c := New(tracker, testConfig())

	c.Track(context.Background(), "1.2.3.4", "", "socket-1")
	c.Track(context.Background(), "1.2.3.4", "", "socket-2")
	c.Check(context.Background(), "1.2.3.4", "") // triggers Block

	decision := c.Check(context.Background(), "1.2.3.4", "")
	require.False(t, decision.Allowed)
	assert.Equal(t, ReasonAddressBlocked, decision.Reason)
}

func TestController_FailsOpenWhenCacheUnavailable(t *testing.T) {
	tracker := newFakeTracker()
	tracker.failing = true
	c := New(tracker, testConfig())

	decision := c.Check(context.Background(), "1.2.3.4", "user-1")
	assert.True(t, decision.Allowed, "admission must fail open when the Cache is unreachable")
}

func TestController_UntrackReleasesCounters(t *testing.T) {
	tracker := newFakeTracker()
	c := New(tracker, testConfig())

	c.Track(context.Background(), "1.2.3.4", "user-1", "socket-1")
	c.Untrack(context.Background(), "1.2.3.4", "user-1", "socket-1")

	count, err := tracker.AddressCount(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestController_DoubleUntrackIsIdempotent(t *testing.T) {
	tracker := newFakeTracker()
	c := New(tracker, testConfig())

	c.Track(context.Background(), "1.2.3.4", "user-1", "socket-1")
	c.Track(context.Background(), "1.2.3.4", "", "socket-2")
	c.Untrack(context.Background(), "1.2.3.4", "user-1", "socket-1")
	c.Untrack(context.Background(), "1.2.3.4", "user-1", "socket-1") // crash-then-cleanup duplicate

	count, err := tracker.AddressCount(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "the unrelated socket must still be counted")
}
