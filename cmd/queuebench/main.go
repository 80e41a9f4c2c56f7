package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kagari-lab/viewerqueue/internal/model"
	"github.com/kagari-lab/viewerqueue/internal/repository"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

// 本地基准：公平插入在不同队列长度下的 enqueue/delete 延迟。
func main() {
	db := must(gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}))
	if err := db.AutoMigrate(&model.QueueItem{}, &model.Participation{}); err != nil {
		panic(err)
	}

	N := 200 // queue length to build up
	OPS := 1000
	if s := os.Getenv("N"); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			N = v
		}
	}
	if s := os.Getenv("OPS"); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			OPS = v
		}
	}

	repo := repository.NewGormQueueRepository(db)
	ctx := context.Background()
	now := time.Now().Unix()
	windowStart := now - 24*3600

	// seed participation history so the insertion scan has work to do
	for i := 0; i < N; i++ {
		uid := fmt.Sprintf("u%05d", i)
		for j := 0; j < rand.Intn(4); j++ {
			db.Create(&model.Participation{UserID: uid, CompletedAt: now - int64(rand.Intn(3600))})
		}
		if _, _, err := repo.Enqueue(ctx, repository.NewEntry{
			UserID: uid, UserLogin: uid, DisplayName: uid,
		}, now, windowStart); err != nil {
			panic(err)
		}
	}

	var enqueueLat, deleteLat []time.Duration
	for i := 0; i < OPS; i++ {
		uid := fmt.Sprintf("x%05d", i)
		t0 := time.Now()
		item, _, err := repo.Enqueue(ctx, repository.NewEntry{
			UserID: uid, UserLogin: uid, DisplayName: uid,
		}, now, windowStart)
		if err != nil {
			panic(err)
		}
		enqueueLat = append(enqueueLat, time.Since(t0))

		t0 = time.Now()
		if err := repo.Delete(ctx, item.ID, i%2 == 0, now); err != nil {
			panic(err)
		}
		deleteLat = append(deleteLat, time.Since(t0))
	}

	fmt.Printf("queue_len=%d ops=%d\n", N, OPS)
	fmt.Printf("enqueue p50=%v p95=%v p99=%v\n", pct(enqueueLat, 0.50), pct(enqueueLat, 0.95), pct(enqueueLat, 0.99))
	fmt.Printf("delete  p50=%v p95=%v p99=%v\n", pct(deleteLat, 0.50), pct(deleteLat, 0.95), pct(deleteLat, 0.99))
}
