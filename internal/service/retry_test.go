package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/arturkryukov/fileprocessing/internal/domain/model"
	"github.com/arturkryukov/fileprocessing/internal/domain/scan"
	"github.com/arturkryukov/fileprocessing/internal/queue"
	"github.com/arturkryukov/fileprocessing/internal/storage/contentstore"
)

func newSweepFixture(t *testing.T, repo *fakeRepo, pub queue.Publisher, pageSize int) *RetrySweeper {
	t.Helper()
	store, err := contentstore.New(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("создание хранилища: %v", err)
	}
	return NewRetrySweeper(repo, store, pub, pageSize, time.Minute, testLogger())
}

// seedRetriable добавляет n записей в статусе FAILURE_RETRIABLE.
func seedRetriable(repo *fakeRepo, n int) {
	for i := 0; i < n; i++ {
		repo.add(&model.FileRecord{
			UUID:            fmt.Sprintf("uuid-%03d", i),
			Checksum:        fmt.Sprintf("sum-%03d", i),
			FileStorageName: fmt.Sprintf("sum-%03d-file.bin", i),
			ScanStatus:      scan.StatusFailureRetriable,
			OwnerID:         "user-1",
		})
	}
}

// Проверяет happy path: записи переведены в RETRYING, задания
// опубликованы.
func TestSweepRequeues(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	seedRetriable(repo, 3)
	rs := newSweepFixture(t, repo, pub, 10)

	result := rs.RunOnce(context.Background())

	if result.Requeued != 3 {
		t.Errorf("Requeued = %d, ожидалось 3", result.Requeued)
	}
	if len(pub.all()) != 3 {
		t.Errorf("опубликовано %d заданий, ожидалось 3", len(pub.all()))
	}
	for i := 0; i < 3; i++ {
		rec := repo.get(fmt.Sprintf("uuid-%03d", i))
		if rec.ScanStatus != scan.StatusRetrying {
			t.Errorf("статус %s = %s, ожидался RETRYING", rec.UUID, rec.ScanStatus)
		}
	}
}

// Проверяет постраничную обработку: записей больше размера страницы.
func TestSweepPaginates(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	seedRetriable(repo, 7)
	rs := newSweepFixture(t, repo, pub, 3)

	result := rs.RunOnce(context.Background())

	if result.Requeued != 7 {
		t.Errorf("Requeued = %d, ожидалось 7", result.Requeued)
	}
}

// Проверяет откат при сбое публикации: записи остаются в
// FAILURE_RETRIABLE, проход завершается без зацикливания.
func TestSweepRevertsOnPublishFailure(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	seedRetriable(repo, 5)
	rs := newSweepFixture(t, repo, pub, 2)

	result := rs.RunOnce(context.Background())

	if result.Requeued != 0 {
		t.Errorf("Requeued = %d, ожидалось 0", result.Requeued)
	}
	if result.Errors != 5 {
		t.Errorf("Errors = %d, ожидалось 5", result.Errors)
	}
	for i := 0; i < 5; i++ {
		rec := repo.get(fmt.Sprintf("uuid-%03d", i))
		if rec.ScanStatus != scan.StatusFailureRetriable {
			t.Errorf("статус %s = %s, ожидался откат в FAILURE_RETRIABLE", rec.UUID, rec.ScanStatus)
		}
	}
}

// Сбой одного файла не прерывает обработку остальных: публикация
// отказывает только для одного задания.
func TestSweepContinuesAfterSingleFailure(t *testing.T) {
	repo := newFakeRepo()
	pub := &selectivePublisher{failPath: "sum-001-file.bin"}
	seedRetriable(repo, 3)
	rs := newSweepFixture(t, repo, pub, 10)

	result := rs.RunOnce(context.Background())

	if result.Requeued != 2 {
		t.Errorf("Requeued = %d, ожидалось 2", result.Requeued)
	}
	if result.Errors != 1 {
		t.Errorf("Errors = %d, ожидалось 1", result.Errors)
	}

	if got := repo.get("uuid-001").ScanStatus; got != scan.StatusFailureRetriable {
		t.Errorf("сбойная запись: статус = %s, ожидался FAILURE_RETRIABLE", got)
	}
	if got := repo.get("uuid-000").ScanStatus; got != scan.StatusRetrying {
		t.Errorf("успешная запись: статус = %s, ожидался RETRYING", got)
	}
}

// Проверяет, что записи в других статусах не затрагиваются.
func TestSweepIgnoresOtherStatuses(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	repo.add(&model.FileRecord{
		UUID: "u1", Checksum: "c1", FileStorageName: "c1-a.txt",
		ScanStatus: scan.StatusNotStarted, OwnerID: "user-1",
	})
	repo.add(&model.FileRecord{
		UUID: "u2", Checksum: "c2", FileStorageName: "c2-b.txt",
		ScanStatus: scan.StatusFailureUnsafe, OwnerID: "user-1",
	})
	rs := newSweepFixture(t, repo, pub, 10)

	result := rs.RunOnce(context.Background())

	if result.Requeued != 0 {
		t.Errorf("Requeued = %d, ожидалось 0", result.Requeued)
	}
	if got := repo.get("u1").ScanStatus; got != scan.StatusNotStarted {
		t.Errorf("статус u1 = %s, не должен меняться", got)
	}
	if got := repo.get("u2").ScanStatus; got != scan.StatusFailureUnsafe {
		t.Errorf("статус u2 = %s, не должен меняться", got)
	}
}

// selectivePublisher отказывает только для заданий с заданным именем файла.
type selectivePublisher struct {
	fakePublisher
	failPath string
}

func (p *selectivePublisher) Publish(ctx context.Context, filePath string) error {
	if filepath.Base(filePath) == p.failPath {
		return errors.New("publish failed")
	}
	return p.fakePublisher.Publish(ctx, filePath)
}
