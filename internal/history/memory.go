package history

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "StarkFinder/internal/errors"
)

// MemoryRepository 把历史记录保存在进程内，主要服务于开发
// 环境与测试。
type MemoryRepository struct {
	mu      sync.RWMutex
	records []*Record

	// now 便于测试注入时间源。
	now func() time.Time
}

// NewMemoryRepository 创建一个内存历史仓库。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now}
}

// Append 追加一条记录。
func (r *MemoryRepository) Append(ctx context.Context, record *Record) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if record.CreatedAt == 0 {
		record.CreatedAt = r.now().Unix()
	}
	stored := *record
	r.records = append(r.records, &stored)
	return nil
}

// List 按创建时间倒序返回记录。
func (r *MemoryRepository) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*Record, 0, opts.Limit)
	for _, record := range r.records {
		if opts.SessionKey != "" && record.SessionKey != opts.SessionKey {
			continue
		}
		copied := *record
		matched = append(matched, &copied)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt > matched[j].CreatedAt
	})
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Close 实现 Repository 接口，内存实现无资源可释放。
func (r *MemoryRepository) Close() error {
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
