package brewsqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coffeeaddict/brewsync/brewsync"
	"github.com/stretchr/testify/require"
)

type apiCall struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeAPI serves the real drinks API over a MemoryStore and records every
// call. Faults map "METHOD /path" to a status code; -1 drops the connection.
type fakeAPI struct {
	store  *brewsync.MemoryStore
	shopID string
	server *httptest.Server
	api    http.Handler

	mu     sync.Mutex
	calls  []apiCall
	faults map[string]int
	holds  map[string]*heldRoute
}

// heldRoute parks the next request to a route until released
type heldRoute struct {
	arrived chan struct{}
	release chan struct{}
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	store := brewsync.NewMemoryStore()
	shop, err := store.CreateShop(context.Background(), brewsync.CoffeeShop{Name: "Bean There"})
	require.NoError(t, err)

	f := &fakeAPI{
		store:  store,
		shopID: shop.ID,
		api:    brewsync.NewHTTPHandlers(store, brewsync.HandlerConfig{}, nil).Routes(),
		faults: make(map[string]int),
		holds:  make(map[string]*heldRoute),
	}
	f.server = httptest.NewServer(f)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		r.Body = io.NopCloser(bytes.NewReader(raw))
	}

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: r.Method, Path: r.URL.Path, Body: body})
	status := f.faults[r.Method+" "+r.URL.Path]
	if status == 0 {
		status = f.faults[r.Method+" *"]
	}
	held := f.holds[r.Method+" "+r.URL.Path]
	delete(f.holds, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	if held != nil {
		close(held.arrived)
		<-held.release
	}

	switch {
	case status == -1:
		panic(http.ErrAbortHandler)
	case status > 0:
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"error":"injected","message":"status %d"}`, status)
	default:
		f.api.ServeHTTP(w, r)
	}
}

func (f *fakeAPI) fail(method, path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[method+" "+path] = status
}

// hold parks the next request to method and path. The returned channel
// closes once it arrives; release lets it through.
func (f *fakeAPI) hold(method, path string) (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &heldRoute{arrived: make(chan struct{}), release: make(chan struct{})}
	f.holds[method+" "+path] = h
	var once sync.Once
	return h.arrived, func() { once.Do(func() { close(h.release) }) }
}

func (f *fakeAPI) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[string]int)
}

func (f *fakeAPI) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// mutations returns recorded POST, PUT and DELETE calls
func (f *fakeAPI) mutations() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method != http.MethodGet {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) drinksPath() string {
	return "/coffee-shops/" + f.shopID + "/drinks"
}

func (f *fakeAPI) drinkPath(id DrinkID) string {
	return f.drinksPath() + "/" + string(id)
}

func (f *fakeAPI) seed(t *testing.T, name, price string) DrinkID {
	t.Helper()
	d, err := f.store.CreateDrink(context.Background(), f.shopID, brewsync.DrinkInput{
		Name: name, Description: name + " description", Price: price,
		Image: "https://img.example/" + strings.ToLower(name) + ".png", Popularity: 50,
	})
	require.NoError(t, err)
	return DrinkID(fmt.Sprint(d.ID))
}

func (f *fakeAPI) serverDrinks(t *testing.T) []brewsync.Drink {
	t.Helper()
	drinks, err := f.store.ListDrinks(context.Background(), f.shopID)
	require.NoError(t, err)
	return drinks
}

// newTestClient opens a file-backed SQLite client against baseURL with a
// clock that makes temporary ids temp_1, temp_2, ...
func newTestClient(t *testing.T, baseURL string, mutate ...func(*Config)) *Client {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := DefaultConfig()
	cfg.HealthTimeout = time.Second
	cfg.RequestTimeout = 2 * time.Second
	cfg.Now = func() time.Time { return time.UnixMilli(0) }
	for _, m := range mutate {
		m(cfg)
	}
	c, err := NewClient(db, baseURL, nil, cfg)
	require.NoError(t, err)
	return c
}

func drink(name, price string) Drink {
	return Drink{
		Name:        name,
		Description: name + " description",
		Price:       price,
		Image:       "https://img.example/" + strings.ToLower(name) + ".png",
		Popularity:  50,
	}
}

// staticState is a Connectivity with a fixed answer
type staticState ConnectivityState

func (s staticState) State() ConnectivityState { return ConnectivityState(s) }

var ready = staticState{IsOnline: true, IsServerReachable: true}

func brewsyncShop(name string) brewsync.CoffeeShop {
	return brewsync.CoffeeShop{Name: name}
}
