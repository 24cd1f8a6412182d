package dispatch

import "strings"

// Trigger is a canned report selected by a phrase in free text.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerUnassigned
	TriggerReportStatus
	TriggerMarketingDeck
	TriggerWeekly
	TriggerMyTasks
	TriggerDepartment
)

// String returns the trigger name used in logs and catalog keys.
func (t Trigger) String() string {
	switch t {
	case TriggerUnassigned:
		return "unassigned"
	case TriggerReportStatus:
		return "report"
	case TriggerMarketingDeck:
		return "marketing"
	case TriggerWeekly:
		return "weekly"
	case TriggerMyTasks:
		return "mine"
	case TriggerDepartment:
		return "department"
	default:
		return "none"
	}
}

// Keywords searched for by the keyword triggers.
const (
	reportKeyword    = "報表"
	marketingKeyword = "行銷簡報"
)

// triggerPhrases is matched in order; the first trigger with a phrase
// contained in the message wins. Phrases are lower case.
var triggerPhrases = []struct {
	trigger Trigger
	phrases []string
}{
	{TriggerUnassigned, []string{"這個誰做", "who's doing this", "who is doing this"}},
	{TriggerReportStatus, []string{"報表交了沒", "is the report in"}},
	{TriggerMarketingDeck, []string{"昨天說的行銷簡報", "marketing deck"}},
	{TriggerWeekly, []string{"這週的事", "this week's tasks", "weekly summary"}},
	{TriggerMyTasks, []string{"我的任務", "my tasks"}},
	{TriggerDepartment, []string{"部門任務", "department tasks"}},
}

// MatchTrigger finds the first trigger whose phrase occurs anywhere in
// text, ignoring case.
func MatchTrigger(text string) Trigger {
	lower := strings.ToLower(text)
	for _, tp := range triggerPhrases {
		for _, p := range tp.phrases {
			if strings.Contains(lower, p) {
				return tp.trigger
			}
		}
	}
	return TriggerNone
}
