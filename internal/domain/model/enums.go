package model

// PRStatus represents the state of a pull request.
type PRStatus string

const (
	PRStatusOpen   PRStatus = "open"
	PRStatusClosed PRStatus = "closed"
	PRStatusMerged PRStatus = "merged"
)

// DeploymentState is the state carried by a deployment status record.
type DeploymentState string

const (
	DeploymentStatePending    DeploymentState = "pending"
	DeploymentStateInProgress DeploymentState = "in_progress"
	DeploymentStateSuccess    DeploymentState = "success"
	DeploymentStateError      DeploymentState = "error"
	DeploymentStateFailure    DeploymentState = "failure"
)

// IsTerminal reports whether no further status may follow this one.
func (s DeploymentState) IsTerminal() bool {
	switch s {
	case DeploymentStateSuccess, DeploymentStateError, DeploymentStateFailure:
		return true
	default:
		return false
	}
}

// CommitState is the state of a commit status check.
type CommitState string

const (
	CommitStatePending CommitState = "pending"
	CommitStateSuccess CommitState = "success"
	CommitStateFailure CommitState = "failure"
	CommitStateError   CommitState = "error"
)

// Reaction is the content of a reaction on a comment.
type Reaction string

const (
	ReactionRocket   Reaction = "rocket"
	ReactionConfused Reaction = "confused"
	ReactionEyes     Reaction = "eyes"
)
