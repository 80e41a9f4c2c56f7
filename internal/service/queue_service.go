package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kagari-lab/viewerqueue/internal/model"
	"github.com/kagari-lab/viewerqueue/internal/repository"
)

var (
	// ErrNotFound 操作引用了不存在的队列条目。
	ErrNotFound = errors.New("queue item not found")
	// ErrUnauthorized 没有可用凭证。
	ErrUnauthorized = errors.New("not authenticated")
	// ErrNoProfile 资料回源失败且没有可退回的缓存。
	ErrNoProfile = errors.New("no profile available")
)

// EnqueueOutcome 入队结果，Added / AlreadyQueued 二选一（都是正常结果，不是错误）。
type EnqueueOutcome interface{ enqueueOutcome() }

// Added 新条目已插入。
type Added struct {
	ID       string
	Position int64
}

// AlreadyQueued 参与者已在队中，未做任何修改。
type AlreadyQueued struct{}

func (Added) enqueueOutcome()         {}
func (AlreadyQueued) enqueueOutcome() {}

// DeleteMode 删除语义：完成（计入参与记录）或取消。
type DeleteMode string

const (
	DeleteCompleted DeleteMode = "completed"
	DeleteCanceled  DeleteMode = "canceled"
)

// QueueService 公平队列对外操作。
type QueueService interface {
	List(ctx context.Context) ([]model.QueueItemView, error)
	IsQueued(ctx context.Context, userID string) (bool, error)
	Enqueue(ctx context.Context, entry repository.NewEntry) (EnqueueOutcome, error)
	Delete(ctx context.Context, id string, mode DeleteMode) error
	// CancelByUser 按参与者取消排队；返回是否有条目被移除。
	CancelByUser(ctx context.Context, userID string) (bool, error)
	MoveUp(ctx context.Context, id string) error
	MoveDown(ctx context.Context, id string) error
}

type queueService struct {
	repo   repository.QueueRepository
	window time.Duration
	now    func() int64
}

func NewQueueService(repo repository.QueueRepository, window time.Duration) QueueService {
	return &queueService{repo: repo, window: window, now: func() int64 { return time.Now().Unix() }}
}

func (s *queueService) windowStart() int64 {
	return s.now() - int64(s.window/time.Second)
}

func (s *queueService) List(ctx context.Context) ([]model.QueueItemView, error) {
	return s.repo.List(ctx, s.windowStart())
}

func (s *queueService) IsQueued(ctx context.Context, userID string) (bool, error) {
	return s.repo.IsQueued(ctx, userID)
}

func (s *queueService) Enqueue(ctx context.Context, entry repository.NewEntry) (EnqueueOutcome, error) {
	item, inserted, err := s.repo.Enqueue(ctx, entry, s.now(), s.windowStart())
	if err != nil {
		return nil, err
	}
	if !inserted {
		return AlreadyQueued{}, nil
	}
	return Added{ID: item.ID, Position: item.Position}, nil
}

func (s *queueService) Delete(ctx context.Context, id string, mode DeleteMode) error {
	err := s.repo.Delete(ctx, id, mode == DeleteCompleted, s.now())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *queueService) CancelByUser(ctx context.Context, userID string) (bool, error) {
	return s.repo.DeleteByUser(ctx, userID, false, s.now())
}

func (s *queueService) MoveUp(ctx context.Context, id string) error {
	return s.move(ctx, id, -1)
}

func (s *queueService) MoveDown(ctx context.Context, id string) error {
	return s.move(ctx, id, 1)
}

func (s *queueService) move(ctx context.Context, id string, delta int64) error {
	err := s.repo.Move(ctx, id, delta)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
