package admission

import (
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/context"
)

const (
	// Reserve results
	reserveStale    = -1
	reserveDenied   = 0
	reserveAdmitted = 1
	// Attempts of a reservation whose storage count has been outdated by a concurrent consume
	maxReserveAttempts = 3
)

// reserveScript admits a reservation if the stored count plus the unexpired reservations stay below the limit.
// KEYS[1] holds the reservations (token -> expiry in ms), KEYS[2] the generation that every consumed reservation
// increments. A generation different from the one read before counting means that the storage count may miss a
// request stored in the meantime; the caller has to count again.
var reserveScript = redis.NewScript(`
	local limit = tonumber(ARGV[1])
	local stored = tonumber(ARGV[2])
	local expected = tonumber(ARGV[3])
	local token = ARGV[4]
	local now = tonumber(ARGV[5])
	local ttl = tonumber(ARGV[6])

	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now)
	local gen = tonumber(redis.call('GET', KEYS[2]) or '0')
	if gen ~= expected then
		return { -1, gen }
	end
	local held = stored + redis.call('ZCARD', KEYS[1])
	if held >= limit then
		return { 0, held }
	end
	redis.call('ZADD', KEYS[1], now + ttl, token)
	redis.call('PEXPIRE', KEYS[1], ttl)
	return { 1, held + 1 }
`)

// consumeScript turns a reservation into a stored request: the token stops counting and the generation moves on
var consumeScript = redis.NewScript(`
	redis.call('ZREM', KEYS[1], ARGV[1])
	redis.call('INCR', KEYS[2])
	redis.call('EXPIRE', KEYS[2], tonumber(ARGV[2]))
	return 1
`)

// releaseScript drops a reservation that did not lead to a stored request
var releaseScript = redis.NewScript(`
	return redis.call('ZREM', KEYS[1], ARGV[1])
`)

// RedisController keeps the unsettled reservations in Redis so that several service instances share them. Stored
// requests are counted through the Counter on every decision. Reservations that are never settled expire after
// the reservation TTL.
type RedisController struct {
	rdb            redis.Cmdable
	counter        Counter
	prefix         string
	reservationTTL time.Duration
	keyTTL         time.Duration

	newToken func() string
	now      func() time.Time
}

// NewRedisController creates a new Redis backed admission controller
func NewRedisController(
	rdb redis.Cmdable,
	counter Counter,
	prefix string,
	reservationTTL time.Duration,
	keyTTL time.Duration,
) *RedisController {
	if prefix == "" {
		prefix = "admission"
	}
	if reservationTTL < time.Second {
		reservationTTL = 30 * time.Second
	}
	if keyTTL < reservationTTL {
		keyTTL = 24 * time.Hour
	}
	return &RedisController{
		rdb:            rdb,
		counter:        counter,
		prefix:         prefix,
		reservationTTL: reservationTTL,
		keyTTL:         keyTTL,
		newToken:       newToken,
		now:            time.Now,
	}
}

func (c *RedisController) keys(key Key) []string {
	base := c.prefix + ":" + key.ShowID + ":" + key.RequesterID
	return []string{base + ":reservations", base + ":generation"}
}

func (c *RedisController) generation(ctx context.Context, key Key) (int64, error) {
	gen, err := c.rdb.Get(ctx, c.keys(key)[1]).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func (c *RedisController) reserve(ctx context.Context, key Key, limit, stored uint, gen int64, token string) ([]int64, error) {
	args := []interface{}{
		int64(limit),
		int64(stored),
		gen,
		token,
		c.now().UnixMilli(),
		c.reservationTTL.Milliseconds(),
	}
	res, err := reserveScript.Run(ctx, c.rdb, c.keys(key), args...).Int64Slice()
	if err != nil {
		return nil, errors.Wrap(err, "reserve: script execution failed")
	}
	if len(res) != 2 {
		return nil, errors.Errorf("reserve: unexpected script result %v", res)
	}
	return res, nil
}

// Removes a reservation on a detached context. The script may have run even if its reply got lost.
func (c *RedisController) drop(key Key, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	return c.release(ctx, key, token)
}

func (c *RedisController) release(ctx context.Context, key Key, token string) error {
	if err := releaseScript.Run(ctx, c.rdb, c.keys(key)[:1], token).Err(); err != nil {
		return errors.Wrap(err, "release: script execution failed")
	}
	return nil
}

func (c *RedisController) consume(ctx context.Context, key Key, token string) error {
	args := []interface{}{token, int64(c.keyTTL / time.Second)}
	if err := consumeScript.Run(ctx, c.rdb, c.keys(key), args...).Err(); err != nil {
		return errors.Wrap(err, "consume: script execution failed")
	}
	return nil
}

// TryReserve implements Controller
func (c *RedisController) TryReserve(ctx context.Context, key Key, limit uint) (*Reservation, error) {
	token := c.newToken()
	for attempt := 1; attempt <= maxReserveAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "TryReserve: context done before reservation")
		}
		gen, err := c.generation(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, "TryReserve: failed to read generation")
		}
		stored, err := c.counter.CountActive(ctx, key.ShowID, key.RequesterID)
		if err != nil {
			return nil, errors.Wrap(err, "TryReserve: failed to count active requests")
		}
		res, err := c.reserve(ctx, key, limit, stored, gen, token)
		if err != nil {
			if dropErr := c.drop(key, token); dropErr != nil {
				err = errors.Wrapf(err, "compensation failed (%v)", dropErr)
			}
			return nil, err
		}
		switch res[0] {
		case reserveAdmitted:
			consume := func(ctx context.Context) error { return c.consume(ctx, key, token) }
			release := func(ctx context.Context) error { return c.release(ctx, key, token) }
			return newReservation(key, token, uint(res[1]), limit, consume, release), nil
		case reserveDenied:
			return nil, ErrDenied
		case reserveStale:
			continue
		default:
			return nil, errors.Errorf("TryReserve: unexpected script status %d", res[0])
		}
	}
	return nil, errors.Errorf("TryReserve: requests of %s kept changing during %d attempts", key, maxReserveAttempts)
}
