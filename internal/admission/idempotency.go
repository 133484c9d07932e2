// Пакет admission — входной контроль запросов на загрузку:
// идемпотентность по клиентскому ключу и лимит частоты запросов.
// Состояние хранится в Redis и разделяется всеми экземплярами сервиса.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Маркеры состояния ключа идемпотентности в Redis.
const (
	stateProcessing = "Processing"
	stateCompleted  = "Completed"
)

// Decision — результат проверки ключа идемпотентности.
type Decision int

const (
	// Proceed — ключ свободен, запрос идёт дальше.
	Proceed Decision = iota
	// AlreadyProcessing — запрос с этим ключом ещё выполняется.
	AlreadyProcessing
	// AlreadyCompleted — запрос с этим ключом уже завершён.
	AlreadyCompleted
)

// ErrEmptyKey возвращается при пустом ключе идемпотентности.
var ErrEmptyKey = errors.New("ключ идемпотентности пуст")

// KV — минимальный контракт хранилища состояния идемпотентности.
// Реализуется go-redis клиентом (redisKV) и in-memory хранилищем в тестах.
type KV interface {
	// SetNX записывает значение, только если ключ отсутствует.
	// Возвращает true, если запись произошла.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get возвращает значение ключа или ("", nil), если ключа нет.
	Get(ctx context.Context, key string) (string, error)
	// Set записывает значение безусловно.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del удаляет ключ.
	Del(ctx context.Context, key string) error
}

// Gate реализует барьер идемпотентности над KV-хранилищем.
type Gate struct {
	kv  KV
	ttl time.Duration
}

// NewGate создаёт барьер идемпотентности с заданным TTL ключей.
func NewGate(kv KV, ttl time.Duration) *Gate {
	return &Gate{kv: kv, ttl: ttl}
}

// Begin атомарно захватывает ключ идемпотентности. Единственный SETNX
// решает гонку конкурентных запросов с одним ключом: ровно один из них
// получает Proceed.
func (g *Gate) Begin(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	ok, err := g.kv.SetNX(ctx, g.redisKey(key), stateProcessing, g.ttl)
	if err != nil {
		return 0, fmt.Errorf("захват ключа идемпотентности: %w", err)
	}
	if ok {
		return Proceed, nil
	}

	// Ключ уже занят — выясняем, завершился ли захвативший его запрос.
	val, err := g.kv.Get(ctx, g.redisKey(key))
	if err != nil {
		return 0, fmt.Errorf("чтение ключа идемпотентности: %w", err)
	}
	// Ключ мог истечь между SETNX и GET — трактуем как выполняющийся,
	// клиент повторит запрос после истечения TTL.
	if val == stateCompleted {
		return AlreadyCompleted, nil
	}
	return AlreadyProcessing, nil
}

// Complete фиксирует исход запроса, ранее захватившего ключ.
// При успехе ключ помечается Completed со свежим TTL, последующие
// запросы с этим ключом получают AlreadyCompleted до истечения TTL.
// При неуспехе ключ удаляется, разрешая немедленный повтор.
func (g *Gate) Complete(ctx context.Context, key string, ok bool) error {
	if key == "" {
		return ErrEmptyKey
	}

	if ok {
		if err := g.kv.Set(ctx, g.redisKey(key), stateCompleted, g.ttl); err != nil {
			return fmt.Errorf("фиксация ключа идемпотентности: %w", err)
		}
		return nil
	}

	if err := g.kv.Del(ctx, g.redisKey(key)); err != nil {
		return fmt.Errorf("освобождение ключа идемпотентности: %w", err)
	}
	return nil
}

func (g *Gate) redisKey(key string) string {
	return "fp:idem:" + key
}

// redisKV — реализация KV поверх go-redis.
type redisKV struct {
	client *redis.Client
}

// NewRedisKV оборачивает go-redis клиент в контракт KV.
func NewRedisKV(client *redis.Client) KV {
	return &redisKV{client: client}
}

func (r *redisKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *redisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (r *redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisKV) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
