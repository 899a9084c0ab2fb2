// Package routing 决定每个课程的读写走文档库还是关系库。
// 开关持久化在关系库里，前面挡一层带 TTL 的 LRU，避免每个请求都查表。
package routing

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coursetalk/internal/store"
)

const (
	cacheSize = 500
	cacheTTL  = 30 * time.Second
)

type toggleRow struct {
	CourseID  string    `gorm:"primaryKey;size:255"`
	Backend   string    `gorm:"size:32;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (toggleRow) TableName() string { return "course_backends" }

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&toggleRow{})
}

type cacheItem struct {
	kind      store.BackendKind
	expiresAt time.Time
}

// Resolver 按课程挑后端。未登记的课程默认走文档库（迁移来源）。
type Resolver struct {
	db       *gorm.DB
	document store.Backend
	rel      store.Backend
	cache    *lru.Cache[string, cacheItem]
}

func NewResolver(db *gorm.DB, document, rel store.Backend) (*Resolver, error) {
	c, err := lru.New[string, cacheItem](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{db: db, document: document, rel: rel, cache: c}, nil
}

func (r *Resolver) KindFor(ctx context.Context, courseID string) (store.BackendKind, error) {
	if item, ok := r.cache.Get(courseID); ok {
		if time.Now().Before(item.expiresAt) {
			return item.kind, nil
		}
		r.cache.Remove(courseID)
	}
	var row toggleRow
	err := r.db.WithContext(ctx).First(&row, "course_id = ?", courseID).Error
	kind := store.BackendDocument
	if err == nil {
		kind = store.BackendKind(row.Backend)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	r.cache.Add(courseID, cacheItem{kind: kind, expiresAt: time.Now().Add(cacheTTL)})
	return kind, nil
}

// For 返回该课程当前应使用的后端
func (r *Resolver) For(ctx context.Context, courseID string) (store.Backend, error) {
	kind, err := r.KindFor(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if kind == store.BackendRelational {
		return r.rel, nil
	}
	return r.document, nil
}

// SetBackend 切换课程后端并立刻让本地缓存失效。
// 其他进程的缓存靠 TTL 过期，切换后最长 cacheTTL 内仍可能读到旧后端。
func (r *Resolver) SetBackend(ctx context.Context, courseID string, kind store.BackendKind) error {
	row := toggleRow{CourseID: courseID, Backend: string(kind), UpdatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "course_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"backend", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return err
	}
	r.cache.Remove(courseID)
	return nil
}

func (r *Resolver) Document() store.Backend   { return r.document }
func (r *Resolver) Relational() store.Backend { return r.rel }
