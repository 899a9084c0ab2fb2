package services

import (
	"context"
	"fmt"

	"coursetalk/internal/models"
	"coursetalk/internal/store"
)

// Vote 落一票。同向重复投票幂等，反向投票先撤旧票，dir 为 none 表示撤票。
// 返回的计票永远由投票人集合重新推导。
func (f *Forum) Vote(ctx context.Context, courseID string, ref store.Ref, userID string, dir store.Direction) (models.Votes, error) {
	if userID == "" {
		return models.Votes{}, fmt.Errorf("%w: user_id is required", store.ErrValidation)
	}
	switch dir {
	case store.VoteUp, store.VoteDown, store.VoteNone:
	default:
		return models.Votes{}, fmt.Errorf("%w: bad vote direction %q", store.ErrValidation, dir)
	}
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return models.Votes{}, err
	}
	votes, err := backend.ApplyVote(ctx, courseID, ref, userID, dir)
	if err != nil {
		return models.Votes{}, err
	}
	return votes, nil
}

// Endorse 标记或撤销采纳。只有顶级回复（depth 0）能被采纳，
// 撤销时整个 endorsement 负载一并清掉。
func (f *Forum) Endorse(ctx context.Context, courseID, commentID, endorserID string, endorsed bool) error {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return err
	}
	if !endorsed {
		return backend.SetEndorsement(ctx, courseID, commentID, nil)
	}
	if endorserID == "" {
		return fmt.Errorf("%w: user_id is required", store.ErrValidation)
	}
	return backend.SetEndorsement(ctx, courseID, commentID, &models.Endorsement{
		UserID: endorserID,
		Time:   f.now(),
	})
}
