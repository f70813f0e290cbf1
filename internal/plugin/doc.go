// Package plugin defines the contract external command handlers implement
// and the dispatcher that offers each command to them in registration
// order. The handlers themselves - the command plugin registry - are an
// external collaborator; this package only specifies and dispatches the
// contract the executor calls through.
package plugin
