// Package tss is the Transactional Storage Surface: a thin contract over
// an embedded SQL engine exposing begin-concurrent, execute,
// uncommitted-query-text, commit (optionally with an assigned index),
// rollback, and commit-count. The embedded engine itself is an external
// collaborator; this package only specifies and fakes the surface the
// command executor and cluster state machine drive it through.
package tss
