package runner

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/entrhq/warden/pkg/engine"
	"github.com/entrhq/warden/pkg/session"
)

// execResult is the uniform outcome every action executor returns. Executor
// failures never propagate past the per-action boundary: they are captured
// here and attributed to the single action that failed.
type execResult struct {
	// OK is false when the browser interaction failed.
	OK bool

	// Detail describes what happened, for the action record.
	Detail string

	// Extracted holds text pulled from the page by extract actions.
	Extracted string

	// Err is the failure, nil when OK.
	Err error
}

func execFailure(err error) execResult {
	return execResult{Err: err}
}

func execSuccess(detail string) execResult {
	return execResult{OK: true, Detail: detail}
}

// executeAction dispatches one action to the matching browser primitive.
// The switch is exhaustive over the closed action-type set: a new action
// type does not compile until it has an executor arm here.
func (r *Runner) executeAction(ctx context.Context, page engine.Page, action session.Action) execResult {
	switch action.Type {
	case session.ActionNavigate:
		return r.execNavigate(ctx, page, action)
	case session.ActionClick:
		return r.execClick(ctx, page, action)
	case session.ActionTypeText:
		return r.execType(ctx, page, action)
	case session.ActionSubmit:
		return r.execSubmit(ctx, page, action)
	case session.ActionExtract:
		return r.execExtract(ctx, page, action)
	case session.ActionScroll:
		return r.execScroll(ctx, page, action)
	case session.ActionScreenshot:
		// No page interaction; evidence capture after this action is the
		// whole point.
		return execSuccess("screenshot requested")
	}
	return execFailure(fmt.Errorf("no executor for action type %q", action.Type))
}

// execNavigate re-validates the URL against policy before loading it.
// Validation already ran at session start; checking again here means a
// blocked URL can never load even if the plan was corrupted in between.
func (r *Runner) execNavigate(ctx context.Context, page engine.Page, action session.Action) execResult {
	if err := r.policy.CheckURL(action.Target); err != nil {
		return execFailure(fmt.Errorf("%w: %v", session.ErrBlockedTarget, err))
	}

	info, err := page.Navigate(ctx, action.Target)
	if err != nil {
		return execFailure(err)
	}
	return execSuccess(fmt.Sprintf("loaded %q (%s)", info.Title, info.URL))
}

func (r *Runner) execClick(ctx context.Context, page engine.Page, action session.Action) execResult {
	if err := page.Click(ctx, action.Target); err != nil {
		return execFailure(err)
	}
	return execSuccess(fmt.Sprintf("clicked %s", action.Target))
}

func (r *Runner) execType(ctx context.Context, page engine.Page, action session.Action) execResult {
	if err := page.Type(ctx, action.Target, action.Value); err != nil {
		return execFailure(err)
	}
	return execSuccess(fmt.Sprintf("typed %d characters into %s", len(action.Value), action.Target))
}

func (r *Runner) execSubmit(ctx context.Context, page engine.Page, action session.Action) execResult {
	if err := page.Submit(ctx, action.Target); err != nil {
		return execFailure(err)
	}
	return execSuccess(fmt.Sprintf("submitted %s", action.Target))
}

// execExtract pulls visible text from the page, bounded by the extract cap
// so a single action can never bloat the audit record. An empty target
// extracts the full page body.
func (r *Runner) execExtract(ctx context.Context, page engine.Page, action session.Action) execResult {
	text, err := page.Extract(ctx, action.Target)
	if err != nil {
		return execFailure(err)
	}

	truncated := false
	if len(text) > r.extractCap {
		text = truncateRunes(text, r.extractCap)
		truncated = true
	}

	detail := fmt.Sprintf("extracted %d characters", len(text))
	if truncated {
		detail += " (truncated)"
	}
	return execResult{OK: true, Detail: detail, Extracted: text}
}

// truncateRunes shortens s to at most max bytes without splitting a
// multi-byte rune, so truncated extracts stay valid UTF-8.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func (r *Runner) execScroll(ctx context.Context, page engine.Page, action session.Action) execResult {
	direction := engine.ScrollDown
	if action.Target == string(engine.ScrollUp) {
		direction = engine.ScrollUp
	}

	if err := page.Scroll(ctx, direction); err != nil {
		return execFailure(err)
	}
	return execSuccess(fmt.Sprintf("scrolled %s", direction))
}
