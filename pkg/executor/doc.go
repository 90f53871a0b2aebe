// Package executor turns planned steps into provider actions.
//
// The executor owns three concerns that sit between the planner and the
// session provider:
//
//   - Variables: %name% placeholders are resolved immediately before dispatch
//     and the resolved values never leave this package. Redact renders steps
//     for display and history with placeholders and values shown as [name].
//   - URL policy: GOTO targets are checked against glob allow and deny lists.
//   - Error taxonomy: provider errors become types.ErrExecutionFailure when the
//     action itself failed and types.ErrSessionUnavailable otherwise.
//
// Example:
//
//	exec, err := executor.New(executor.Config{
//	    Provider:    provider,
//	    AllowedURLs: []string{"https://*.example.com/*"},
//	    StepTimeout: time.Minute,
//	})
//	out, err := exec.Execute(ctx, sessionID, step, task.Variables, task.ExtractionSchema)
package executor
