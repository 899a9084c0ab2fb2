// Package services 承载论坛的业务规则，存储细节交给 store.Backend。
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coursetalk/internal/store"
)

// BackendResolver 按课程选择存储后端。生产环境是 routing.Resolver，
// 测试里直接用固定后端。
type BackendResolver interface {
	For(ctx context.Context, courseID string) (store.Backend, error)
}

// StaticResolver 永远返回同一个后端
type StaticResolver struct {
	Backend store.Backend
}

func (s StaticResolver) For(context.Context, string) (store.Backend, error) {
	return s.Backend, nil
}

type Forum struct {
	resolver BackendResolver
	log      zerolog.Logger
	now      func() time.Time
}

func NewForum(resolver BackendResolver, log zerolog.Logger) *Forum {
	return &Forum{
		resolver: resolver,
		log:      log.With().Str("component", "forum").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// backend 解析课程对应的后端，包上单次重试
func (f *Forum) backend(ctx context.Context, courseID string) (store.Backend, error) {
	b, err := f.resolver.For(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return retryBackend{Backend: b}, nil
}

func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%w: %s is required", store.ErrValidation, pairs[i])
		}
	}
	return nil
}
