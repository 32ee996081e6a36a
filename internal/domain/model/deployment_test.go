package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/shipit/internal/domain/model"
)

func TestParseDeploymentPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want model.DeploymentPayload
	}{
		{name: "object", raw: `{"pr":7,"version":"abc1234"}`, want: model.DeploymentPayload{PR: 7, Version: "abc1234"}},
		{name: "string holding object", raw: `"{\"pr\":7,\"version\":\"abc1234\"}"`, want: model.DeploymentPayload{PR: 7, Version: "abc1234"}},
		{name: "empty object", raw: `{}`, want: model.DeploymentPayload{}},
		{name: "empty string", raw: `""`, want: model.DeploymentPayload{}},
		{name: "empty", raw: ``, want: model.DeploymentPayload{}},
		{name: "garbage string", raw: `"not json"`, want: model.DeploymentPayload{}},
		{name: "wrong type", raw: `[1,2]`, want: model.DeploymentPayload{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, model.ParseDeploymentPayload(json.RawMessage(tt.raw)))
		})
	}
}

func TestDeploymentPayload_HasPullRequest(t *testing.T) {
	assert.True(t, model.DeploymentPayload{PR: 1}.HasPullRequest())
	assert.False(t, model.DeploymentPayload{Version: "v1"}.HasPullRequest())
}

func TestDeploymentState_IsTerminal(t *testing.T) {
	assert.False(t, model.DeploymentStatePending.IsTerminal())
	assert.False(t, model.DeploymentStateInProgress.IsTerminal())
	assert.True(t, model.DeploymentStateSuccess.IsTerminal())
	assert.True(t, model.DeploymentStateError.IsTerminal())
	assert.True(t, model.DeploymentStateFailure.IsTerminal())
}

func TestOutputBuffer_Tail(t *testing.T) {
	buf := model.NewOutputBuffer()
	for _, l := range []string{"a", "b", "c"} {
		buf.Append(l)
	}

	assert.Equal(t, []string{"b", "c"}, buf.Tail(2))
	assert.Equal(t, []string{"a", "b", "c"}, buf.Tail(10))
	assert.Equal(t, "a\nb\nc", buf.String())
	assert.Equal(t, 3, buf.Len())
}
