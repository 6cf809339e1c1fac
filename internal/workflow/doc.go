// Package workflow provides the business boundary for Warden's alert triage
// pipeline. It defines the Service (intake, session binding, async dispatch,
// case lookup), the terminal outcome labels, the Notifier contract, and the
// workflow metrics.
package workflow
