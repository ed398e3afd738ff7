// Package review implements the human approval flow for task results.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/love2wisdom/kim-team-leader/internal/store"
	"github.com/love2wisdom/kim-team-leader/pkg/models"
)

// ErrPermissionDenied means the requester may not review results in this team.
// Reviewing requires the team owner or an owner/admin member.
var ErrPermissionDenied = errors.New("permission denied")

// Service applies review decisions to results.
type Service struct {
	Store store.Store
}

// Review sets the result's review status and feedback. Approval stamps
// approved_at and marks the task completed; other decisions leave the
// existing approval timestamp in place. A nil feedback keeps the current
// feedback, an empty one clears it.
func (s *Service) Review(ctx context.Context, teamName, resultID, requester, status string, feedback *string) (*store.Result, error) {
	if !models.ValidReviewStatus(status) {
		return nil, fmt.Errorf("invalid review status %q", status)
	}
	if requester != "" {
		ok, err := s.Store.UserCanManage(ctx, teamName, requester)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrPermissionDenied
		}
	}

	existing, err := s.Store.GetResult(ctx, teamName, resultID)
	if err != nil {
		return nil, err
	}

	newFeedback := existing.Feedback
	if feedback != nil {
		trimmed := strings.TrimSpace(*feedback)
		if trimmed == "" {
			newFeedback = nil
		} else {
			newFeedback = &trimmed
		}
	}

	approvedAt := existing.ApprovedAt
	if status == models.ReviewApproved {
		now := time.Now().UTC().Truncate(time.Second)
		approvedAt = &now
	}

	if err := s.Store.UpdateResultReview(ctx, resultID, status, newFeedback, approvedAt); err != nil {
		return nil, err
	}
	if status == models.ReviewApproved {
		completed := models.StatusCompleted
		if err := s.Store.UpdateTask(ctx, teamName, existing.TaskID, store.UpdateTaskParams{Status: &completed}); err != nil {
			return nil, fmt.Errorf("mark task %d completed: %w", existing.TaskID, err)
		}
	}
	return s.Store.GetResult(ctx, teamName, resultID)
}
