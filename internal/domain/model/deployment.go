package model

import (
	"encoding/json"
	"time"
)

// Deployment is an immutable record of a ref deployed to an environment.
// Status is tracked separately as an append-only list of DeploymentStatus.
type Deployment struct {
	ID          int64
	Ref         string
	SHA         string
	Environment string
	Payload     DeploymentPayload
	CreatedAt   time.Time
}

// DeploymentPayload is the JSON document stored with every deployment.
type DeploymentPayload struct {
	PR      int    `json:"pr,omitempty"`
	Version string `json:"version,omitempty"`
}

// HasPullRequest reports whether the payload names an originating pull request.
func (p DeploymentPayload) HasPullRequest() bool {
	return p.PR > 0
}

// ParseDeploymentPayload decodes a payload as stored by GitHub. Payloads
// written by other tools may be empty, a JSON object, or a JSON string holding
// an object; anything unparseable yields an empty payload.
func ParseDeploymentPayload(raw json.RawMessage) DeploymentPayload {
	var p DeploymentPayload
	if len(raw) == 0 {
		return p
	}
	if err := json.Unmarshal(raw, &p); err == nil {
		return p
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return DeploymentPayload{}
	}
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return DeploymentPayload{}
	}
	return p
}

// DeploymentStatus is one entry in a deployment's status history.
type DeploymentStatus struct {
	ID        int64
	State     DeploymentState
	CreatedAt time.Time
}
