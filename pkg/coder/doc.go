// Package coder implements the coding agent that turns an approved plan into a pull request.
//
// # Flow
//
// RunBuild clones the target repository into a throwaway directory, creates a
// working branch, detects the repository's language and test tooling, and then
// runs a bounded tool loop (pkg/agent/toolloop) in which the model reads files,
// writes files and runs shell commands one tool call per round.
//
// When the model calls done, or when the round ceiling is reached after at least one
// file was modified, the agent commits every change, pushes the branch and opens a
// pull request against the base branch. A run that never modifies anything fails
// with an AgentExhaustedError.
//
// # Failure handling
//
// The clone directory is always removed. If the branch was pushed but the pull
// request could not be opened, the remote branch is deleted (best effort) so that no
// half-delivered branch is left behind.
package coder
