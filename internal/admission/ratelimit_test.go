package admission

import (
	"context"
	"testing"
	"time"
)

// memLimiterAt создаёт MemoryLimiter с управляемым временем.
func memLimiterAt(capacity int64, window time.Duration, current *time.Time) *MemoryLimiter {
	l := NewMemoryLimiter(capacity, window)
	l.Now = func() time.Time { return *current }
	return l
}

// Проверяет, что новый bucket выдаёт ровно capacity токенов подряд,
// а следующий запрос отклоняется с ненулевым RetryAfter.
func TestLimiterCapacityExhaustion(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	l := memLimiterAt(5, time.Minute, &current)

	for i := 0; i < 5; i++ {
		res, err := l.Take(ctx, "client-a")
		if err != nil {
			t.Fatalf("Take #%d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("Take #%d отклонён, ёмкость 5 ещё не исчерпана", i)
		}
	}

	res, err := l.Take(ctx, "client-a")
	if err != nil {
		t.Fatalf("Take после исчерпания: %v", err)
	}
	if res.Allowed {
		t.Error("запрос сверх ёмкости должен быть отклонён")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %s, ожидалось положительное значение", res.RetryAfter)
	}
	// Один токен появляется каждые window/capacity = 12s
	if res.RetryAfter > 12*time.Second {
		t.Errorf("RetryAfter = %s, ожидалось не больше 12s", res.RetryAfter)
	}
}

// Проверяет жадное пополнение: токен появляется через window/capacity,
// не дожидаясь конца окна.
func TestLimiterGreedyRefill(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	l := memLimiterAt(5, time.Minute, &current)

	for i := 0; i < 5; i++ {
		if res, _ := l.Take(ctx, "client-b"); !res.Allowed {
			t.Fatalf("Take #%d отклонён", i)
		}
	}

	// Через 12 секунд (window/capacity) должен появиться ровно один токен
	current = current.Add(12 * time.Second)
	res, err := l.Take(ctx, "client-b")
	if err != nil {
		t.Fatalf("Take после пополнения: %v", err)
	}
	if !res.Allowed {
		t.Error("через window/capacity должен появиться один токен")
	}

	// Второго токена ещё нет
	if res, _ := l.Take(ctx, "client-b"); res.Allowed {
		t.Error("второй токен за один интервал пополнения появляться не должен")
	}
}

// Проверяет, что пополнение не превышает ёмкость bucket'а.
func TestLimiterRefillCap(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	l := memLimiterAt(3, time.Minute, &current)

	if res, _ := l.Take(ctx, "client-c"); !res.Allowed {
		t.Fatal("первый Take отклонён")
	}

	// Долгий простой — bucket наполняется только до ёмкости
	current = current.Add(24 * time.Hour)
	allowed := 0
	for i := 0; i < 10; i++ {
		if res, _ := l.Take(ctx, "client-c"); res.Allowed {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("после простоя выдано %d токенов, ожидалось 3 (ёмкость)", allowed)
	}
}

// Проверяет независимость bucket'ов разных клиентов.
func TestLimiterPerClientIsolation(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	l := memLimiterAt(1, time.Minute, &current)

	if res, _ := l.Take(ctx, "client-d"); !res.Allowed {
		t.Fatal("первый Take client-d отклонён")
	}
	if res, _ := l.Take(ctx, "client-d"); res.Allowed {
		t.Error("client-d исчерпал ёмкость, запрос должен быть отклонён")
	}

	// Другой клиент не затронут
	if res, _ := l.Take(ctx, "client-e"); !res.Allowed {
		t.Error("bucket client-e не должен зависеть от client-d")
	}
}

// Проверяет арифметику takeToken напрямую: учёт остатка времени
// при пополнении и вычисление RetryAfter.
func TestTakeTokenArithmetic(t *testing.T) {
	const capacity = 4
	const intervalMS = 15000 // окно 60s / 4 токена

	// Пустой bucket, прошло полтора интервала: добавляется один токен,
	// остаток 7500 мс переносится на следующий.
	st := bucketState{tokens: 0, lastMS: 0}
	st, res := takeToken(st, 22500, capacity, intervalMS)
	if !res.Allowed {
		t.Fatal("токен должен быть выдан после пополнения")
	}
	if st.tokens != 0 {
		t.Errorf("tokens = %d, ожидалось 0", st.tokens)
	}
	if st.lastMS != 15000 {
		t.Errorf("lastMS = %d, ожидалось 15000 (остаток переносится)", st.lastMS)
	}

	// Сразу повторный запрос: отказ, до следующего токена 7500 мс
	st, res = takeToken(st, 22500, capacity, intervalMS)
	if res.Allowed {
		t.Fatal("токенов нет, запрос должен быть отклонён")
	}
	if res.RetryAfter != 7500*time.Millisecond {
		t.Errorf("RetryAfter = %s, ожидалось 7.5s", res.RetryAfter)
	}
	_ = st
}
