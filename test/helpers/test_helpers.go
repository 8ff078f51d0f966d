package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/drone-dispatch/internal/auth"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/repository"
	"github.com/nimasrn/drone-dispatch/pkg/pg"
	"github.com/nimasrn/drone-dispatch/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, _ := repository.OpenTestDB(t)
	return db
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)

	// adapters are cached by name
	connName := fmt.Sprintf("test-%d", time.Now().UnixNano())
	adapter, err := redis.NewRedisAdapter(connName, "test:", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Client().Close() })

	return mr, adapter
}

func CreateTestDrone(t *testing.T, db *pg.DB, id string, battery float64, at model.Location) *model.Drone {
	d, err := repository.NewDroneRepository(db).Create(context.Background(), &model.Drone{
		DroneID:  id,
		Battery:  battery,
		Location: at,
		Status:   model.DroneStatusIdle,
	})
	require.NoError(t, err)
	return d
}

func CreateTestAdmin(t *testing.T, db *pg.DB, id int64) *model.User {
	u, err := repository.NewUserRepository(db).Create(context.Background(), &model.User{
		ID:     id,
		Name:   fmt.Sprintf("admin-%d", id),
		Email:  fmt.Sprintf("admin-%d@dispatch.test", id),
		Role:   model.RoleAdmin,
		Active: true,
	})
	require.NoError(t, err)
	return u
}

func SignToken(t *testing.T, tokens *auth.Tokens, a auth.Actor) string {
	token, err := tokens.Sign(a, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

// WeatherUpstream is a fake weather provider whose reading can be swapped
// while a test runs.
type WeatherUpstream struct {
	mu      sync.Mutex
	reading map[string]interface{}
	status  int
	calls   int
}

func (w *WeatherUpstream) Set(windSpeed, rainProbability, visibility float64, condition string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = fasthttp.StatusOK
	w.reading = map[string]interface{}{
		"wind_speed":       windSpeed,
		"rain_probability": rainProbability,
		"visibility":       visibility,
		"condition":        condition,
	}
}

// Fail makes every weather lookup answer with status.
func (w *WeatherUpstream) Fail(status int) {
	w.mu.Lock()
	w.status = status
	w.mu.Unlock()
}

func (w *WeatherUpstream) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func (w *WeatherUpstream) handle(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	if string(ctx.Path()) == "/health" {
		ctx.SetBodyString(`{"status":"healthy"}`)
		return
	}

	w.mu.Lock()
	w.calls++
	status, reading := w.status, w.reading
	w.mu.Unlock()

	ctx.SetStatusCode(status)
	if status != fasthttp.StatusOK {
		ctx.SetBodyString(`{"error":"unavailable"}`)
		return
	}
	body, _ := json.Marshal(reading)
	ctx.SetBody(body)
}

// StartWeatherUpstream serves a calm reading on an in-memory listener and
// returns the provider together with a dialer for the gateway client.
func StartWeatherUpstream(t *testing.T) (*WeatherUpstream, fasthttp.DialFunc) {
	w := &WeatherUpstream{}
	w.Set(3, 5, 9000, "Clear")
	return w, Serve(t, w.handle)
}

// Serve runs handler on an in-memory listener until the test ends.
func Serve(t *testing.T, handler fasthttp.RequestHandler) fasthttp.DialFunc {
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = ln.Close()
	})
	return func(string) (net.Conn, error) { return ln.Dial() }
}

// APIClient issues JSON requests against a served handler.
type APIClient struct {
	client *fasthttp.Client
}

func NewAPIClient(dial fasthttp.DialFunc) *APIClient {
	return &APIClient{client: &fasthttp.Client{Dial: dial}}
}

// Do sends body, if not nil, as JSON and returns the status and raw body.
func (c *APIClient) Do(t *testing.T, method, path, authorization string, body interface{}) (int, []byte) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://dispatch.test" + path)
	req.Header.SetMethod(method)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req.Header.SetContentType("application/json")
		req.SetBody(raw)
	}
	require.NoError(t, c.client.DoTimeout(req, resp, 5*time.Second))
	return resp.StatusCode(), append([]byte(nil), resp.Body()...)
}

// DoJSON is Do followed by decoding the body into out.
func (c *APIClient) DoJSON(t *testing.T, method, path, authorization string, body, out interface{}) int {
	t.Helper()
	status, raw := c.Do(t, method, path, authorization, body)
	if out != nil && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return status
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
