// Package actions parses structured directives out of model output and
// dispatches them against the chat platform under category gating.
package actions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Category groups directive types behind a single enable flag.
type Category string

const (
	CategoryMessaging  Category = "messaging"
	CategoryChannel    Category = "channel"
	CategoryModeration Category = "moderation"
	CategoryTask       Category = "task"
	CategoryCron       Category = "cron"
	CategoryMemory     Category = "memory"
	CategoryPoll       Category = "poll"
	CategoryPlan       Category = "plan"
	CategorySpawn      Category = "spawn"
	CategoryDefer      Category = "defer"
)

// typeCategories is the directive vocabulary: every recognised type and the
// category flag that gates it. Types outside this table are stripped and
// recorded as unrecognised.
var typeCategories = map[string]Category{
	"sendMessage":    CategoryMessaging,
	"replyMessage":   CategoryMessaging,
	"addReaction":    CategoryMessaging,
	"editMessage":    CategoryMessaging,
	"deleteMessage":  CategoryMessaging,
	"pinMessage":     CategoryMessaging,
	"unpinMessage":   CategoryMessaging,
	"sendDM":         CategoryMessaging,
	"createChannel":  CategoryChannel,
	"renameChannel":  CategoryChannel,
	"archiveThread":  CategoryChannel,
	"createThread":   CategoryChannel,
	"setTopic":       CategoryChannel,
	"bulkDelete":     CategoryModeration,
	"timeoutMember":  CategoryModeration,
	"kickMember":     CategoryModeration,
	"createTask":     CategoryTask,
	"updateTask":     CategoryTask,
	"closeTask":      CategoryTask,
	"queryTasks":     CategoryTask,
	"createCron":     CategoryCron,
	"updateCron":     CategoryCron,
	"deleteCron":     CategoryCron,
	"runCron":        CategoryCron,
	"cancelRun":      CategoryCron,
	"queryCrons":     CategoryCron,
	"saveMemory":     CategoryMemory,
	"queryMemory":    CategoryMemory,
	"forgetMemory":   CategoryMemory,
	"createPoll":     CategoryPoll,
	"proposePlan":    CategoryPlan,
	"spawnAgent":     CategorySpawn,
	"deferReply":     CategoryDefer,
	"scheduleFollow": CategoryDefer,
}

// queryTypes never trigger the retry placeholder; a failed read is not worth
// a re-invocation.
var queryTypes = map[string]bool{
	"queryTasks":  true,
	"queryCrons":  true,
	"queryMemory": true,
}

// Flags gates categories. Missing keys mean disabled.
type Flags map[Category]bool

// AllEnabled returns a flag set with every category on.
func AllEnabled() Flags {
	f := make(Flags)
	for _, c := range []Category{
		CategoryMessaging, CategoryChannel, CategoryModeration, CategoryTask,
		CategoryCron, CategoryMemory, CategoryPoll, CategoryPlan,
		CategorySpawn, CategoryDefer,
	} {
		f[c] = true
	}
	return f
}

// Action is one parsed directive.
type Action struct {
	Type    string
	Payload json.RawMessage
}

// ParseResult is the outcome of scanning one model output.
type ParseResult struct {
	CleanText            string
	Actions              []Action
	StrippedUnrecognized []string
	StrippedDisabled     []string
	ParseFailures        int
}

var actionBlockRe = regexp.MustCompile(`(?s)<discord-action>\s*(.*?)\s*</discord-action>`)

// Parse extracts directive blocks from text. Every block is removed from the
// clean text regardless of whether it parsed; unknown and disabled types are
// recorded so the caller can footer them.
func Parse(text string, flags Flags) ParseResult {
	res := ParseResult{}
	seenUnknown := map[string]bool{}
	seenDisabled := map[string]bool{}

	res.CleanText = actionBlockRe.ReplaceAllStringFunc(text, func(block string) string {
		payload := actionBlockRe.FindStringSubmatch(block)[1]

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(payload), &head); err != nil || head.Type == "" {
			res.ParseFailures++
			return ""
		}

		cat, known := typeCategories[head.Type]
		if !known {
			if !seenUnknown[head.Type] {
				seenUnknown[head.Type] = true
				res.StrippedUnrecognized = append(res.StrippedUnrecognized, head.Type)
			}
			return ""
		}
		if !flags[cat] {
			if !seenDisabled[head.Type] {
				seenDisabled[head.Type] = true
				res.StrippedDisabled = append(res.StrippedDisabled, head.Type)
			}
			return ""
		}

		res.Actions = append(res.Actions, Action{Type: head.Type, Payload: json.RawMessage(payload)})
		return ""
	})
	res.CleanText = strings.TrimSpace(collapseBlankRuns(res.CleanText))

	sort.Strings(res.StrippedUnrecognized)
	sort.Strings(res.StrippedDisabled)
	return res
}

// collapseBlankRuns squeezes the 3+ newline runs left behind by removed
// blocks down to a paragraph break.
func collapseBlankRuns(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

// Footer renders the informational trailer for stripped-but-disabled types
// and parse failures. Empty when there is nothing to report.
func Footer(res ParseResult) string {
	var parts []string
	if len(res.StrippedDisabled) > 0 {
		parts = append(parts, fmt.Sprintf("Unavailable action types: %s", strings.Join(res.StrippedDisabled, ", ")))
	}
	if res.ParseFailures > 0 {
		noun := "blocks"
		if res.ParseFailures == 1 {
			noun = "block"
		}
		parts = append(parts, fmt.Sprintf("%d action %s failed to parse", res.ParseFailures, noun))
	}
	return strings.Join(parts, "\n")
}
