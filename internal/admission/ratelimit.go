package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result — исход попытки взять токен из bucket'а.
type Result struct {
	// Allowed — токен выдан, запрос пропускается.
	Allowed bool
	// RetryAfter — через сколько появится следующий токен (при отказе).
	RetryAfter time.Duration
}

// Limiter ограничивает частоту запросов по ключу клиента
// алгоритмом token bucket с жадным пополнением: токены добавляются
// непрерывно со скоростью capacity за window, а не пачкой в конце окна.
type Limiter interface {
	Take(ctx context.Context, key string) (Result, error)
}

// bucketState — состояние одного bucket'а: остаток токенов и момент
// последнего пополнения в миллисекундах Unix.
type bucketState struct {
	tokens int64
	lastMS int64
}

// takeToken — чистая логика token bucket. Пополняет bucket по прошедшему
// времени и пытается изъять один токен. Lua-скрипт redisLimiter повторяет
// эту же арифметику на стороне Redis.
func takeToken(st bucketState, nowMS int64, capacity int64, intervalMS int64) (bucketState, Result) {
	elapsed := nowMS - st.lastMS
	if elapsed > 0 {
		add := elapsed / intervalMS
		if add > 0 {
			st.tokens += add
			st.lastMS += add * intervalMS
			if st.tokens >= capacity {
				st.tokens = capacity
				st.lastMS = nowMS
			}
		}
	}

	if st.tokens >= 1 {
		st.tokens--
		return st, Result{Allowed: true}
	}

	retryMS := intervalMS - (nowMS - st.lastMS)
	return st, Result{RetryAfter: time.Duration(retryMS) * time.Millisecond}
}

// takeScript пополняет bucket и изымает токен одной атомарной операцией.
// Арифметика совпадает с takeToken. Возвращает {allowed, retry_after_ms}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local interval_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil then
	tokens = capacity
	last = now_ms
end

local elapsed = now_ms - last
if elapsed > 0 then
	local add = math.floor(elapsed / interval_ms)
	if add > 0 then
		tokens = tokens + add
		last = last + add * interval_ms
		if tokens >= capacity then
			tokens = capacity
			last = now_ms
		end
	end
end

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	retry_ms = interval_ms - (now_ms - last)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last', last)
redis.call('PEXPIRE', KEYS[1], ttl_ms)
return {allowed, retry_ms}
`)

// redisLimiter — распределённый limiter поверх Redis. Все экземпляры
// сервиса делят один bucket на клиента.
type redisLimiter struct {
	client     *redis.Client
	capacity   int64
	intervalMS int64
	ttlMS      int64
	now        func() time.Time
}

// NewRedisLimiter создаёт limiter с ёмкостью capacity токенов,
// пополняемых равномерно в течение window.
func NewRedisLimiter(client *redis.Client, capacity int64, window time.Duration) Limiter {
	return &redisLimiter{
		client:     client,
		capacity:   capacity,
		intervalMS: tokenIntervalMS(capacity, window),
		// Бездействующий bucket успевает наполниться до capacity
		// за window, дольше хранить его незачем.
		ttlMS: 2 * window.Milliseconds(),
		now:   time.Now,
	}
}

func (l *redisLimiter) Take(ctx context.Context, key string) (Result, error) {
	vals, err := takeScript.Run(ctx, l.client,
		[]string{"fp:rate:" + key},
		l.capacity, l.intervalMS, l.now().UnixMilli(), l.ttlMS,
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("выполнение скрипта rate limit: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("скрипт rate limit вернул %d значений вместо 2", len(vals))
	}

	if vals[0] == 1 {
		return Result{Allowed: true}, nil
	}
	return Result{RetryAfter: time.Duration(vals[1]) * time.Millisecond}, nil
}

// MemoryLimiter — однопроцессная реализация Limiter для тестов.
type MemoryLimiter struct {
	mu         sync.Mutex
	buckets    map[string]bucketState
	capacity   int64
	intervalMS int64

	// Now подменяется в тестах для управления временем.
	Now func() time.Time
}

// NewMemoryLimiter создаёт in-memory limiter с теми же параметрами,
// что и NewRedisLimiter.
func NewMemoryLimiter(capacity int64, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		buckets:    make(map[string]bucketState),
		capacity:   capacity,
		intervalMS: tokenIntervalMS(capacity, window),
		Now:        time.Now,
	}
}

func (l *MemoryLimiter) Take(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	nowMS := l.Now().UnixMilli()
	st, ok := l.buckets[key]
	if !ok {
		st = bucketState{tokens: l.capacity, lastMS: nowMS}
	}

	st, res := takeToken(st, nowMS, l.capacity, l.intervalMS)
	l.buckets[key] = st
	return res, nil
}

// tokenIntervalMS — период появления одного токена, не меньше 1 мс.
func tokenIntervalMS(capacity int64, window time.Duration) int64 {
	interval := window.Milliseconds() / capacity
	if interval < 1 {
		interval = 1
	}
	return interval
}
