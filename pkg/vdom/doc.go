// Package vdom provides the render snapshot model and the diff engine.
//
// A Snapshot is the fully rendered output of a view: an ordered list of root
// VNodes that are elements, static text, or placeholders whose text was
// resolved from the session's assigns. Templates may also contain component
// references; the render package expands those before a Snapshot is produced.
//
// # Element API
//
// Nodes are created using variadic factory functions:
//
//	Div(Class("counter"),
//	    Span(Dyn("count")),
//	    Button(OnClick("increment"), Text("+")),
//	)
//
// # Diffing
//
// Diff walks two snapshots in parallel and returns the Patch operations that
// turn the first into the second. Children are compared by position only;
// there is no keyed reconciliation and no move operation. Every Patch
// addresses its target by Path, the list of child indices starting at the
// root list. Apply replays a patch list against a snapshot and is used by
// tests and clients to verify that Apply(old, Diff(old, new)) equals new.
package vdom
