package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// oracleCacheTTL matches the "cached for the session" lifetime the Access
// Oracle contract calls for: long enough to avoid re-checking on every
// mutation, short enough that a permission revocation takes effect quickly.
const oracleCacheTTL = 10 * time.Minute

type cacheKey struct {
	userID    types.UserIDType
	diagramID types.DiagramIDType
}

// OracleClient consults an external access-control service over HTTP to
// decide whether a user may view or edit a diagram, exactly as the
// diagram/folder/ACL model itself is kept external to LiveShare. Calls are
// circuit-broken the same way the SFU RPC client was in the teacher, so a
// degraded oracle degrades the room to deny-by-default instead of hanging it.
type OracleClient struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	cache   *lru.LRU[cacheKey, types.Permission]
}

// NewOracleClient creates a client against the access service at baseURL
// (e.g. "http://access-control.internal:8080").
func NewOracleClient(baseURL string) *OracleClient {
	st := gobreaker.Settings{
		Name:        "access-oracle",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("access-oracle").Set(stateVal)
		},
	}

	return &OracleClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		cb:      gobreaker.NewCircuitBreaker(st),
		cache:   lru.NewLRU[cacheKey, types.Permission](4096, nil, oracleCacheTTL),
	}
}

type accessCheckResponse struct {
	Permission string `json:"permission"`
}

// Check returns the user's permission over a diagram, consulting the cache
// first. A circuit-open oracle denies the request rather than failing
// open, per spec §7's "degrade to read-only/deny" error-handling rule.
func (o *OracleClient) Check(ctx context.Context, userID types.UserIDType, diagramID types.DiagramIDType) (types.Permission, error) {
	key := cacheKey{userID: userID, diagramID: diagramID}
	if perm, ok := o.cache.Get(key); ok {
		return perm, nil
	}

	url := fmt.Sprintf("%s/v1/access?userId=%s&diagramId=%s", o.baseURL, userID, diagramID)

	res, err := o.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := o.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return types.PermissionNone, nil
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("access oracle returned status %d", resp.StatusCode)
		}

		var body accessCheckResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, err
		}
		return types.Permission(body.Permission), nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("access-oracle").Inc()
			logging.Warn(ctx, "access oracle circuit open: denying by default", zap.String("userId", string(userID)))
			return types.PermissionNone, nil
		}
		logging.Error(ctx, "access oracle check failed", zap.Error(err))
		return types.PermissionNone, fmt.Errorf("access oracle check: %w", err)
	}

	perm := res.(types.Permission)
	o.cache.Add(key, perm)
	return perm, nil
}

var _ types.AccessOracle = (*OracleClient)(nil)

// HealthCheck reports the Access Oracle's reachability for the readiness
// probe: "unhealthy" when the circuit breaker has tripped open, "healthy"
// otherwise. It deliberately avoids making a request of its own, since a
// health check hitting the same degraded dependency it's probing would
// just add load to something already struggling.
func (o *OracleClient) HealthCheck(ctx context.Context) string {
	if o.cb.State() == gobreaker.StateOpen {
		return "unhealthy"
	}
	return "healthy"
}
