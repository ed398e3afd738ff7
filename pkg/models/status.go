package models

// Task statuses used throughout the codebase.
const (
	StatusPending        = "pending"
	StatusInProgress     = "in_progress"
	StatusAwaitingReview = "awaiting_review"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusCancelled      = "cancelled"
)

// Workflow types: how multiple assigned agents produce one result.
const (
	WorkflowSingle        = "single"
	WorkflowSequential    = "sequential"
	WorkflowParallel      = "parallel"
	WorkflowCollaborative = "collaborative"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Supervision levels. Stored and surfaced only; the executor does not enforce them.
const (
	SupervisionFull     = "full"
	SupervisionModerate = "moderate"
	SupervisionMinimal  = "minimal"
	SupervisionNone     = "none"
)

// Result review statuses.
const (
	ReviewPending           = "pending"
	ReviewApproved          = "approved"
	ReviewRejected          = "rejected"
	ReviewRevisionRequested = "revision_requested"
)

// Agent statuses.
const (
	AgentIdle     = "idle"
	AgentActive   = "active"
	AgentInactive = "inactive"
)

// Assignment roles. Assignment order index 0 is always the primary agent.
const (
	AssignmentPrimary = "primary"
	AssignmentSupport = "support"
)

// Team member roles.
const (
	MemberOwner  = "owner"
	MemberAdmin  = "admin"
	MemberMember = "member"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultTaskListLimit       = 1000
	DefaultHistoryListLimit    = 500
	DefaultSSEChannelBuffer    = 256
)

// ValidTaskStatus reports whether s is a known task status.
func ValidTaskStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusAwaitingReview, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ValidWorkflowType reports whether s is a known workflow type.
func ValidWorkflowType(s string) bool {
	switch s {
	case WorkflowSingle, WorkflowSequential, WorkflowParallel, WorkflowCollaborative:
		return true
	}
	return false
}

// ValidPriority reports whether s is a known task priority.
func ValidPriority(s string) bool {
	switch s {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ValidSupervisionLevel reports whether s is a known supervision level.
func ValidSupervisionLevel(s string) bool {
	switch s {
	case SupervisionFull, SupervisionModerate, SupervisionMinimal, SupervisionNone:
		return true
	}
	return false
}

// ValidAgentStatus reports whether s is a known agent status.
func ValidAgentStatus(s string) bool {
	switch s {
	case AgentIdle, AgentActive, AgentInactive:
		return true
	}
	return false
}

// ValidReviewStatus reports whether s is a known result review status.
func ValidReviewStatus(s string) bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewRejected, ReviewRevisionRequested:
		return true
	}
	return false
}
