package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		want Command
	}{
		{"/help", CommandHelp},
		{"  /HELP  ", CommandHelp},
		{"/幫助", CommandHelp},
		{"/tasks", CommandTasks},
		{"/tasks@secretary_bot", CommandTasks},
		{"/report", CommandReport},
		{"/settings", CommandSettings},
		{"/status", CommandStatus},
		{"/自我介紹", CommandIntroduce},
		{"/自我介紹\n姓名：Amy", CommandIntroduce},
		{"/tasks please", CommandNone},
		{"/unknown", CommandNone},
		{"help", CommandNone},
		{"", CommandNone},
		{"please /help", CommandNone},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseCommand(tt.text), "%q", tt.text)
	}
}

func TestMatchTrigger(t *testing.T) {
	tests := []struct {
		text string
		want Trigger
	}{
		{"這個誰做？", TriggerUnassigned},
		{"WHO IS DOING THIS", TriggerUnassigned},
		{"報表交了沒", TriggerReportStatus},
		{"昨天說的行銷簡報是誰接的？", TriggerMarketingDeck},
		{"整理一下這週的事", TriggerWeekly},
		{"Show me My Tasks", TriggerMyTasks},
		{"部門任務", TriggerDepartment},
		{"今天午餐吃什麼", TriggerNone},
		{"", TriggerNone},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchTrigger(tt.text), "%q", tt.text)
	}
}

func TestResultLogged(t *testing.T) {
	assert.False(t, Result{Stage: StageOnboarding}.Logged())
	assert.True(t, success(StageCommand, "ok").Logged())
	assert.True(t, failure(StageAssistant, "bad").Logged())
}
