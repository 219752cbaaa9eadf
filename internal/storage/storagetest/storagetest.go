// Package storagetest 提供基于临时 SQLite 文件和 miniredis 的 Store，供各包测试复用
package storagetest

import (
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/LJTian/TopicDigest/internal/storage"
)

// New 返回不带 Redis 的 Store
func New(tb testing.TB) *storage.Store {
	tb.Helper()
	return open(tb, nil)
}

// NewWithRedis 返回接入 miniredis 的 Store，miniredis 随测试结束关闭
func NewWithRedis(tb testing.TB) (*storage.Store, *miniredis.Miniredis) {
	tb.Helper()
	mr := miniredis.RunT(tb)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tb.Cleanup(func() { _ = rdb.Close() })
	return open(tb, rdb), mr
}

func open(tb testing.TB, rdb *redis.Client) *storage.Store {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "topicdigest.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	store, err := storage.NewStoreWithDB(db, rdb)
	if err != nil {
		tb.Fatalf("new store: %v", err)
	}
	return store
}
