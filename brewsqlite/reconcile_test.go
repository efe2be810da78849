package brewsqlite

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openShop opens the fake API's shop while online, then cuts the network
func openOfflineShop(t *testing.T, c *Client, api *fakeAPI) *Shop {
	t.Helper()
	ctx := context.Background()
	s, err := c.OpenShop(ctx, api.shopID, nil)
	require.NoError(t, err)
	s.Monitor().SetNetworkOnline(ctx, false)
	return s
}

func pending(t *testing.T, s *Shop) int {
	t.Helper()
	n, err := s.Pending(context.Background())
	require.NoError(t, err)
	return n
}

func findDrink(drinks []Drink, name string) (Drink, bool) {
	for _, d := range drinks {
		if d.Name == name {
			return d, true
		}
	}
	return Drink{}, false
}

func TestReconcile_EmptyQueueMakesNoCalls(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api.server.URL)

	res, err := c.Reconcile(context.Background(), api.shopID, ready)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, api.callCount())
}

func TestReconcile_SkipsWhileOfflineOrUnreachable(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api.server.URL)
	ctx := context.Background()
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpDelete, ID: "1"})

	for _, st := range []staticState{{IsOnline: false, IsServerReachable: true}, {IsOnline: true}} {
		res, err := c.Reconcile(ctx, api.shopID, st)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
	}
	assert.Zero(t, api.callCount())
	assert.Len(t, queued(t, c, api.shopID), 1)
}

func TestScenario_OfflineAddThenUpdatePostsOnce(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api.server.URL)
	ctx := context.Background()
	s := openOfflineShop(t, c, api)
	s.Watch()

	a, err := s.AddDrink(ctx, drink("Americano", "3.00"))
	require.NoError(t, err)
	assert.Equal(t, DrinkID("temp_1"), a.ID)
	assert.Equal(t, StatusPendingCreate, a.Status)

	a.Price = "3.50"
	_, err = s.UpdateDrink(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, pending(t, s))

	api.resetCalls()
	s.Monitor().SetNetworkOnline(ctx, true)

	calls := api.mutations()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "3.50", calls[0].Body["price"])
	assert.Zero(t, pending(t, s))

	drinks := s.Drinks()
	require.Len(t, drinks, 1)
	_, isServerID := drinks[0].ID.ServerID()
	assert.True(t, isServerID)
	assert.Equal(t, StatusSynced, drinks[0].Status)
	assert.Equal(t, "3.50", api.serverDrinks(t)[0].Price)
}

func TestScenario_OfflineAddThenDeleteMakesNoCalls(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api.server.URL)
	ctx := context.Background()
	s := openOfflineShop(t, c, api)
	s.Watch()

	b, err := s.AddDrink(ctx, drink("Breve", "4.00"))
	require.NoError(t, err)
	require.NoError(t, s.DeleteDrink(ctx, b.ID))
	assert.Zero(t, pending(t, s))
	assert.Empty(t, s.Drinks())

	api.resetCalls()
	s.Monitor().SetNetworkOnline(ctx, true)

	assert.Empty(t, api.mutations())
	assert.Equal(t, 1, api.callCount(), "only the reconnect health check")
	assert.Empty(t, api.serverDrinks(t))
}

func TestScenario_FailedDeleteIsAllThatRemains(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api.server.URL)
	ctx := context.Background()
	yID := api.seed(t, "Yirgacheffe", "4.00")
	zID := api.seed(t, "Zebra Mocha", "5.00")

	s := openOfflineShop(t, c, api)
	x, err := s.AddDrink(ctx, drink("Xocolatl", "4.50"))
	require.NoError(t, err)
	y, ok := findDrink(s.Drinks(), "Yirgacheffe")
	require.True(t, ok)
	y.Price = "4.25"
	_, err = s.UpdateDrink(ctx, y)
	require.NoError(t, err)
	require.NoError(t, s.DeleteDrink(ctx, zID))
	require.Equal(t, 3, pending(t, s))

	api.fail(http.MethodDelete, api.drinkPath(zID), http.StatusServiceUnavailable)
	require.True(t, s.Monitor().CheckServerStatus(ctx))
	s.Monitor().SetNetworkOnline(ctx, true)

	res, err := s.Reconcile(ctx)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 1, res.Remaining)

	ops := queued(t, c, api.shopID)
	require.Len(t, ops, 1)
	assert.Equal(t, OpDelete, ops[0].Type)
	assert.Equal(t, zID, ops[0].ID)
	assert.False(t, ops[0].Local)
	assert.False(t, s.Monitor().State().IsServerReachable)

	// the cache already knows X's server id
	serverX, ok := res.Mapping[x.ID]
	require.True(t, ok)
	cached, ok := findDrink(s.Drinks(), "Xocolatl")
	require.True(t, ok)
	assert.Equal(t, serverX, cached.ID)
	_, ok = findDrink(s.Drinks(), "Zebra Mocha")
	assert.False(t, ok)

	server := api.serverDrinks(t)
	require.Len(t, server, 3)
	assert.Equal(t, "4.25", server[0].Price)
	assert.Equal(t, string(yID), fmt.Sprint(server[0].ID))

	api.heal()
	require.True(t, s.Monitor().CheckServerStatus(ctx))
	res, err = s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Zero(t, pending(t, s))
	assert.Len(t, api.serverDrinks(t), 2)
}

func TestReconcile_TransportFailureKeepsEverything(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api.server.URL)
	ctx := context.Background()
	yID := api.seed(t, "Yirgacheffe", "4.00")

	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpAdd, ID: "temp_1", Data: withID(drink("Xocolatl", "4.50"), "temp_1"), Local: true})
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpDelete, ID: yID})
	api.fail(http.MethodPost, api.drinksPath(), -1)

	res, err := c.Reconcile(ctx, api.shopID, ready)
	require.Error(t, err)
	assert.Equal(t, 2, res.Remaining)
	for _, call := range api.mutations() {
		assert.Equal(t, http.MethodPost, call.Method)
	}

	ops := queued(t, c, api.shopID)
	require.Len(t, ops, 2)
	assert.Equal(t, DrinkID("temp_1"), ops[0].ID)
	assert.True(t, ops[0].Local)
	assert.Equal(t, yID, ops[1].ID)
}

func TestReconcile_TemporaryIDsAreNeverSent(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api.server.URL)
	ctx := context.Background()

	// Persist skips compaction, so dependents of the add stay separate
	require.NoError(t, c.Persist(ctx, api.shopID, []PendingOperation{
		{Type: OpAdd, ID: "temp_1", Data: withID(drink("Xocolatl", "4.50"), "temp_1"), Local: true},
		{Type: OpUpdate, ID: "temp_1", Data: withID(drink("Xocolatl", "4.75"), "temp_1"), Local: true},
		{Type: OpDelete, ID: "temp_2", Local: true},
	}))

	t.Run("add still retryable", func(t *testing.T) {
		api.fail(http.MethodPost, api.drinksPath(), http.StatusBadGateway)
		_, err := c.Reconcile(ctx, api.shopID, ready)
		require.Error(t, err)
		assert.Len(t, queued(t, c, api.shopID), 3)
	})

	t.Run("add rejected", func(t *testing.T) {
		api.fail(http.MethodPost, api.drinksPath(), http.StatusUnprocessableEntity)
		res, err := c.Reconcile(ctx, api.shopID, ready)
		require.NoError(t, err)
		require.Len(t, res.Rejections, 3)
		assert.True(t, IsPermanent(res.Rejections[0].Err))
		assert.ErrorIs(t, res.Rejections[1].Err, ErrUnresolvedTarget)
		assert.ErrorIs(t, res.Rejections[2].Err, ErrUnresolvedTarget)
		assert.Empty(t, queued(t, c, api.shopID))
	})

	for _, call := range api.mutations() {
		assert.NotContains(t, call.Path, "temp_")
		assert.Equal(t, http.MethodPost, call.Method)
	}
}

func TestReconcile_PermanentRejectionIsDroppedAndPassContinues(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api.server.URL)
	ctx := context.Background()
	yID := api.seed(t, "Yirgacheffe", "4.00")
	zID := api.seed(t, "Zebra Mocha", "5.00")

	bad := drink("", "4.00")
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpUpdate, ID: yID, Data: withID(bad, yID)})
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpUpdate, ID: "999", Data: withID(drink("Ghost", "1.00"), "999")})
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpDelete, ID: zID})
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpDelete, ID: "998"})

	res, err := c.Reconcile(ctx, api.shopID, ready)
	require.NoError(t, err)
	assert.Zero(t, res.Updated)
	assert.Equal(t, 2, res.Deleted, "a delete the server no longer knows counts as applied")
	require.Len(t, res.Rejections, 2)
	assert.Equal(t, yID, res.Rejections[0].Op.ID)
	assert.True(t, IsNotFound(res.Rejections[1].Err))
	assert.Empty(t, queued(t, c, api.shopID))

	server := api.serverDrinks(t)
	require.Len(t, server, 1)
	assert.Equal(t, "Yirgacheffe", server[0].Name)

	cached, err := c.LoadCache(ctx, api.shopID)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, StatusSynced, cached[0].Status)
}

func TestReconcile_GuardPreventsOverlappingPasses(t *testing.T) {
	api := newFakeAPI(t)
	lockPath := filepath.Join(t.TempDir(), "reconcile.lock")
	c := newTestClient(t, api.server.URL, func(cfg *Config) { cfg.LockPath = lockPath })
	ctx := context.Background()
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpDelete, ID: "1"})

	c.reconciling.Store(true)
	res, err := c.Reconcile(ctx, api.shopID, ready)
	require.ErrorIs(t, err, ErrReconcileInProgress)
	assert.True(t, res.Skipped)
	c.reconciling.Store(false)

	other := flock.New(lockPath)
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	res, err = c.Reconcile(ctx, api.shopID, ready)
	require.ErrorIs(t, err, ErrReconcileInProgress)
	assert.True(t, res.Skipped)
	assert.Zero(t, api.callCount())
	require.NoError(t, other.Unlock())

	res, err = c.Reconcile(ctx, api.shopID, ready)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.False(t, c.reconciling.Load())
}

// reconcileWhileHeld starts a pass, waits until it reaches the held POST,
// runs during, then lets the POST through and waits for the pass to end.
func reconcileWhileHeld(t *testing.T, c *Client, api *fakeAPI, during func()) {
	t.Helper()
	arrived, release := api.hold(http.MethodPost, api.drinksPath())
	defer release()

	done := make(chan error, 1)
	go func() {
		_, err := c.Reconcile(context.Background(), api.shopID, ready)
		done <- err
	}()
	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("reconciliation never posted the queued add")
	}
	during()
	release()
	require.NoError(t, <-done)
}

func TestReconcile_DeleteQueuedDuringPassReachesServer(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api.server.URL)
	ctx := context.Background()
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpAdd, ID: "temp_1", Data: withID(drink("Latte", "4.50"), "temp_1"), Local: true})

	reconcileWhileHeld(t, c, api, func() {
		enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpDelete, ID: "temp_1", Local: true})
	})

	server := api.serverDrinks(t)
	require.Len(t, server, 1)
	ops := queued(t, c, api.shopID)
	require.Len(t, ops, 1)
	assert.Equal(t, OpDelete, ops[0].Type)
	assert.Equal(t, DrinkID(fmt.Sprint(server[0].ID)), ops[0].ID)
	assert.False(t, ops[0].Local)

	res, err := c.Reconcile(ctx, api.shopID, ready)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Empty(t, api.serverDrinks(t))
	assert.Empty(t, queued(t, c, api.shopID))
}

func TestReconcile_UpdateQueuedDuringPassIsNotLost(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api.server.URL)
	ctx := context.Background()
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpAdd, ID: "temp_1", Data: withID(drink("Latte", "4.50"), "temp_1"), Local: true})

	newer := drink("Latte", "5.25")
	reconcileWhileHeld(t, c, api, func() {
		enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpUpdate, ID: "temp_1", Data: withID(newer, "temp_1"), Local: true})
	})

	ops := queued(t, c, api.shopID)
	require.Len(t, ops, 1)
	assert.Equal(t, OpUpdate, ops[0].Type)
	assert.False(t, ops[0].Local)
	assert.Equal(t, "5.25", ops[0].Data.Price)

	_, err := c.Reconcile(ctx, api.shopID, ready)
	require.NoError(t, err)
	server := api.serverDrinks(t)
	require.Len(t, server, 1)
	assert.Equal(t, "5.25", server[0].Price)
	assert.Empty(t, queued(t, c, api.shopID))
}

func TestEnqueue_LeavesFencedOperationsAlone(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api.server.URL)
	ctx := context.Background()
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpUpdate, ID: "7", Data: withID(drink("Mocha", "4.00"), "7")})

	ops, maxSeq, err := c.beginPass(ctx, api.shopID)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpUpdate, ID: "7", Data: withID(drink("Mocha", "4.10"), "7")})
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpUpdate, ID: "7", Data: withID(drink("Mocha", "4.20"), "7")})

	all := queued(t, c, api.shopID)
	require.Len(t, all, 2)
	assert.Equal(t, "4.00", all[0].Data.Price)
	assert.Equal(t, "4.20", all[1].Data.Price)

	require.NoError(t, c.finishPass(ctx, api.shopID, maxSeq, nil, nil))
	rest := queued(t, c, api.shopID)
	require.Len(t, rest, 1)
	assert.Equal(t, "4.20", rest[0].Data.Price)

	// with the fence lifted compaction applies again
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpUpdate, ID: "7", Data: withID(drink("Mocha", "4.30"), "7")})
	rest = queued(t, c, api.shopID)
	require.Len(t, rest, 1)
	assert.Equal(t, "4.30", rest[0].Data.Price)
}

func TestReconcile_CancelledContextKeepsRemainder(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api.server.URL)
	enqueue(t, c, PendingOperation{ShopID: api.shopID, Type: OpDelete, ID: "1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Reconcile(ctx, api.shopID, ready)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, queued(t, c, api.shopID), 1)
}

// An offline session followed by reconciliation ends where an always-online
// session with the same actions ends.
func TestReconcile_OfflineSessionMatchesOnlineSession(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			ctx := context.Background()

			onlineAPI := newFakeAPI(t)
			offlineAPI := newFakeAPI(t)
			for _, api := range []*fakeAPI{onlineAPI, offlineAPI} {
				api.seed(t, "House Blend", "2.50")
				api.seed(t, "Flat White", "3.90")
			}

			online, err := newTestClient(t, onlineAPI.server.URL).OpenShop(ctx, onlineAPI.shopID, nil)
			require.NoError(t, err)
			offline := openOfflineShop(t, newTestClient(t, offlineAPI.server.URL), offlineAPI)

			onlineRand := rand.New(rand.NewSource(seed))
			offlineRand := rand.New(rand.NewSource(seed))
			for step := 0; step < 12; step++ {
				runRandomAction(t, online, onlineRand, step)
				runRandomAction(t, offline, offlineRand, step)
			}
			require.True(t, online.Monitor().State().Ready(), "online session never fell back")

			offline.Monitor().SetNetworkOnline(ctx, true)
			_, err = offline.Reconcile(ctx)
			require.NoError(t, err)
			assert.Zero(t, pending(t, offline))

			assert.Equal(t, summarize(online.Drinks()), summarize(offline.Drinks()))
			assert.Equal(t, len(onlineAPI.serverDrinks(t)), len(offlineAPI.serverDrinks(t)))
		})
	}
}

func runRandomAction(t *testing.T, s *Shop, r *rand.Rand, step int) {
	t.Helper()
	ctx := context.Background()
	drinks := s.Drinks()
	action := r.Intn(3)
	if len(drinks) == 0 {
		action = 0
	}
	switch action {
	case 0:
		price := fmt.Sprintf("%d.%02d", 2+r.Intn(4), r.Intn(100))
		_, err := s.AddDrink(ctx, drink(fmt.Sprintf("Special %d", step), price))
		require.NoError(t, err)
	case 1:
		d := drinks[r.Intn(len(drinks))]
		d.Price = fmt.Sprintf("%d.%02d", 2+r.Intn(4), r.Intn(100))
		d.Sales += r.Intn(10)
		_, err := s.UpdateDrink(ctx, d)
		require.NoError(t, err)
	case 2:
		d := drinks[r.Intn(len(drinks))]
		require.NoError(t, s.DeleteDrink(ctx, d.ID))
	}
}

func summarize(drinks []Drink) []string {
	out := make([]string, len(drinks))
	for i, d := range drinks {
		out[i] = strings.Join([]string{d.Name, d.Price, fmt.Sprint(d.Sales), d.Color}, "|")
	}
	return out
}
