package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/vehicle-rentals/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/vehicle-rentals/internal/adapters/mongo"
	"github.com/robertarktes/vehicle-rentals/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/vehicle-rentals/internal/adapters/redis"
	"github.com/robertarktes/vehicle-rentals/internal/analytics"
	"github.com/robertarktes/vehicle-rentals/internal/audit"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
	httphandler "github.com/robertarktes/vehicle-rentals/internal/http"
	"github.com/robertarktes/vehicle-rentals/internal/idempotency"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
	"github.com/robertarktes/vehicle-rentals/internal/outbox"
	"github.com/robertarktes/vehicle-rentals/internal/rateLimit"
	"github.com/robertarktes/vehicle-rentals/internal/reconciler"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const jwtSecret = "integration-secret"

func startContainer(t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Terminate(context.Background()) })
	return c
}

func endpoint(t *testing.T, c testcontainers.Container, port string) string {
	t.Helper()
	ctx := context.Background()
	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return host + ":" + mapped.Port()
}

func bearer(t *testing.T, id int64, role domain.Role) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, httphandler.Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + s
}

func call(t *testing.T, srv *httptest.Server, method, path, auth string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth)
	if method == http.MethodPost && path == "/v1/bookings" {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestIntegration_BookingLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()

	crdbContainer := startContainer(t, testcontainers.ContainerRequest{
		Image:        "cockroachdb/cockroach:v24.1.1",
		Cmd:          []string{"start-single-node", "--insecure"},
		ExposedPorts: []string{"26257/tcp", "8080/tcp"},
		WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
	})
	mongoContainer := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	})
	redisContainer := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
	})
	rabbitContainer := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		WaitingFor:   wait.ForHTTP("/api/health/checks/alarms").WithPort("15672").WithBasicAuth("guest", "guest"),
	})

	crdbAddr := endpoint(t, crdbContainer, "26257")
	admin, err := pgxpool.New(ctx, "postgresql://root@"+crdbAddr+"/defaultdb?sslmode=disable")
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS rentals")
	require.NoError(t, err)
	admin.Close()

	dsn := "postgresql://root@" + crdbAddr + "/rentals?sslmode=disable"
	require.NoError(t, crdb.Migrate(dsn))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+endpoint(t, mongoContainer, "27017")))
	require.NoError(t, err)
	defer mongoClient.Disconnect(ctx)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: endpoint(t, redisContainer, "6379")})
	defer redisClient.Close()

	rabbitConn, err := amqp.Dial("amqp://guest:guest@" + endpoint(t, rabbitContainer, "5672") + "/")
	require.NoError(t, err)
	defer rabbitConn.Close()

	logger := observability.NewLogger()
	auditLog := mongoadapter.NewAuditLogger(mongoClient.Database("rentals"), logger)
	require.NoError(t, auditLog.EnsureIndexes(ctx))

	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)
	rl := rateLimit.NewRateLimiter(redisadapter.NewCache(redisClient))
	handlers := httphandler.NewHandlers(repo, idemp, analytics.NewEngine(repo, logger), auditLog)
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, logger, rl, httphandler.RouterConfig{
		JWTSecret:     jwtSecret,
		UserRateLimit: 100,
		IPRateLimit:   1000,
	}))
	defer srv.Close()

	owner := &domain.User{Name: "Bob", Email: "bob@example.com", Role: domain.RoleOwner, IsActive: true}
	renter := &domain.User{Name: "Alice", Email: "alice@example.com", Role: domain.RoleRenter, IsActive: true}
	root := &domain.User{Name: "Root", Email: "root@example.com", Role: domain.RoleSuperAdmin, IsActive: true}
	for _, u := range []*domain.User{owner, renter, root} {
		require.NoError(t, repo.CreateUser(ctx, u))
	}

	var vehicle struct {
		ID int64 `json:"id"`
	}
	status := call(t, srv, http.MethodPost, "/v1/vehicles", bearer(t, owner.ID, domain.RoleOwner), map[string]interface{}{
		"make": "Mazda", "model": "Demio", "plate": "KCX 001Z", "year": 2017, "price_per_day": "35.00",
	}, &vehicle)
	require.Equal(t, http.StatusCreated, status)

	now := time.Now().UTC().Truncate(time.Second)
	var booking struct {
		ID         int64           `json:"id"`
		Status     string          `json:"status"`
		TotalPrice decimal.Decimal `json:"total_price"`
	}
	status = call(t, srv, http.MethodPost, "/v1/bookings", bearer(t, renter.ID, domain.RoleRenter), map[string]interface{}{
		"vehicle_id": vehicle.ID,
		"start_date": now.Add(-time.Hour).Format(time.RFC3339),
		"end_date":   now.Add(47 * time.Hour).Format(time.RFC3339),
	}, &booking)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, string(domain.BookingPending), booking.Status)
	assert.True(t, decimal.NewFromInt(70).Equal(booking.TotalPrice), booking.TotalPrice.String())

	path := "/v1/bookings/" + strconv.FormatInt(booking.ID, 10)
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, path+"/approve", bearer(t, owner.ID, domain.RoleOwner), nil, &booking))
	assert.Equal(t, string(domain.BookingApproved), booking.Status)

	rec := reconciler.New(repo, logger)
	res, err := rec.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Activated)

	later := now.Add(48 * time.Hour)
	res, err = reconciler.New(repo, logger, reconciler.WithClock(func() time.Time { return later })).RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, path, bearer(t, renter.ID, domain.RoleRenter), nil, &booking))
	assert.Equal(t, string(domain.BookingCompleted), booking.Status)

	var snap analytics.Snapshot
	require.Equal(t, http.StatusForbidden, call(t, srv, http.MethodGet, "/v1/analytics/system-wide", bearer(t, owner.ID, domain.RoleOwner), nil, nil))
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/v1/analytics/system-wide", bearer(t, root.ID, domain.RoleSuperAdmin), nil, &snap))
	assert.Equal(t, 3, snap.TotalUsers)
	assert.Equal(t, 1, snap.TotalVehicles)
	assert.Equal(t, 1, snap.VehiclesAvailable)
	assert.Equal(t, 1, snap.CompletedBookings)
	assert.True(t, decimal.NewFromInt(70).Equal(snap.TotalRevenue))
	assert.Equal(t, "Mazda Demio", snap.MostBookedModel)
	assert.Equal(t, "Bob", snap.OwnerWithMostBookings)

	consumer, err := rabbit.NewConsumer(rabbitConn, "rentals.audit.test", "booking.#")
	require.NoError(t, err)
	defer consumer.Close()
	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	deliveries, err := consumer.Consume(consumeCtx)
	require.NoError(t, err)
	go audit.NewConsumer(auditLog, logger).Run(consumeCtx, deliveries)

	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	require.NoError(t, err)
	defer rabbitPub.Close()
	n, err := outbox.NewPublisher(repo, rabbitPub, logger, 100).PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.Eventually(t, func() bool {
		logs, err := auditLog.BookingHistory(ctx, booking.ID)
		return err == nil && len(logs) == 4
	}, 30*time.Second, 250*time.Millisecond)

	var history []struct {
		Action string `json:"action"`
		To     string `json:"to"`
	}
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, path+"/history", bearer(t, owner.ID, domain.RoleOwner), nil, &history))
	require.Len(t, history, 4)
	assert.Equal(t, domain.EventBookingCreated, history[0].Action)
	var actions []string
	for _, h := range history {
		actions = append(actions, h.Action)
	}
	assert.ElementsMatch(t, []string{
		domain.EventBookingCreated,
		domain.EventBookingApproved,
		domain.EventBookingActivated,
		domain.EventBookingCompleted,
	}, actions)
}
