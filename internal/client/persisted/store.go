// Package persisted は耐久ストレージにバックアップされる汎用の永続ストア
// プリミティブを提供する。
//
// ストレージハンドルが利用可能になる前（アプリ起動直後）の変更は
// インメモリ値へ同期的に適用され（UIが即座に反映できる）、同時に
// 再生可能な変更関数としてキューに積まれる。Hydrateはストレージから
// 既存値をちょうど1回読み込み、キュー上の変更を呼び出し順に
// 読み込んだ値の上へ適用してから永続化する。これにより、遅いロードと
// 速い初期書き込みの競合で変更が失われることはない。
package persisted

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/hnreader/internal/client/storage"
)

const (
	// persistAttempts は永続化の最大試行回数。
	persistAttempts = 3
	// persistBackoff は永続化リトライの初回バックオフ。以降は2倍ずつ増加する。
	persistBackoff = 250 * time.Millisecond
)

// Store は名前空間ごとに独立してハイドレートされる永続キーバリューストア。
// 型パラメータTはJSONシリアライズ可能であること。
type Store[T any] struct {
	name    string
	storage storage.Storage
	logger  *slog.Logger

	mu       sync.Mutex
	value    T
	hydrated bool
	queue    []func(T) T // ハイドレーション前の変更の再生キュー
	// persistPending は永続化リトライが尽きたことを示す。
	// 次の変更の永続化成功時に解消される。
	persistPending bool

	// sleep はテストでバックオフを無効化するためのフック。
	sleep func(time.Duration)
}

// NewStore は初期値initialを持つStoreを生成する。
// nameはストレージ上のキーとして使用する。
func NewStore[T any](name string, initial T, st storage.Storage, logger *slog.Logger) *Store[T] {
	return &Store[T]{
		name:    name,
		storage: st,
		logger:  logger,
		value:   initial,
		sleep:   time.Sleep,
	}
}

// Get は現在のインメモリ値を返す。
// ハイドレーション完了前でも、適用済みの変更を反映した値が返る。
func (s *Store[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Hydrated はハイドレーションが完了しているかを返す。
func (s *Store[T]) Hydrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrated
}

// Update は変更関数をストアへ適用する。
// ハイドレーション前: インメモリ値へ同期適用し、再生キューへ積む。
// ハイドレーション後: インメモリ値へ適用し、全体値を永続化する
// （有限リトライ付き。失敗してもインメモリ値はそのまま有効）。
func (s *Store[T]) Update(ctx context.Context, fn func(T) T) {
	s.mu.Lock()

	s.value = fn(s.value)

	if !s.hydrated {
		s.queue = append(s.queue, fn)
		s.mu.Unlock()
		return
	}

	value := s.value
	s.mu.Unlock()

	s.persist(ctx, value)
}

// Hydrate はストレージから既存値をちょうど1回読み込み、
// ハイドレーション前に積まれた変更を呼び出し順に読み込んだ値へ適用して
// 永続化し、ストアをハイドレート済みにする。
// 読み込みに失敗した場合は初期値（+キュー適用済み）のまま続行する。
func (s *Store[T]) Hydrate(ctx context.Context) {
	s.mu.Lock()
	if s.hydrated {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	var loaded T
	found, err := s.storage.Get(ctx, s.name, &loaded)
	if err != nil {
		s.logger.Warn("永続値の読み込みに失敗したため初期値で続行します",
			slog.String("store", s.name),
			slog.String("error", err.Error()),
		)
		found = false
	}

	// キューの取り出しと値の差し替えは同一クリティカルセクションで行う。
	// ロード中に積まれた変更もこの時点のキューに含まれるため、
	// 遅いロードと並行する書き込みが失われることはない。
	s.mu.Lock()
	if s.hydrated {
		s.mu.Unlock()
		return
	}
	if found {
		// 読み込んだ値の上へ、これまでの変更を呼び出し順に適用する
		for _, fn := range s.queue {
			loaded = fn(loaded)
		}
		s.value = loaded
	}
	// 永続値が無い場合は、キュー適用済みの現在値がそのまま正となる
	s.queue = nil
	s.hydrated = true
	value := s.value
	s.mu.Unlock()

	s.persist(ctx, value)
}

// persist は全体値を有限リトライ付きで永続化する。
// 全試行が失敗した場合はpersistPendingを立て、次回の永続化成功時に解消する。
func (s *Store[T]) persist(ctx context.Context, value T) {
	backoff := persistBackoff
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		err := s.storage.Set(ctx, s.name, value)
		if err == nil {
			s.mu.Lock()
			s.persistPending = false
			s.mu.Unlock()
			return
		}

		s.logger.Warn("永続化に失敗しました",
			slog.String("store", s.name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt < persistAttempts {
			s.sleep(backoff)
			backoff *= 2
		}
	}

	// インメモリ値は既に適用済みのため有効なまま。永続化は保留とする。
	s.mu.Lock()
	s.persistPending = true
	s.mu.Unlock()

	s.logger.Error("永続化のリトライが尽きました。次回の変更時に再試行します",
		slog.String("store", s.name),
	)
}

// PersistPending は永続化が保留中かを返す。テスト用。
func (s *Store[T]) PersistPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistPending
}
