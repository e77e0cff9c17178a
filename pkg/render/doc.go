// Package render turns a view's component tree and assigns into a snapshot.
//
// Components are registered by name in a Registry and produce templates:
// vdom trees that may contain placeholders (vdom.Dyn) bound to assigns keys
// and references to other components (vdom.Comp).
//
//	reg := render.NewRegistry()
//	reg.MustRegister("counter", render.ComponentFunc(func(s render.Scope) []*vdom.VNode {
//	    return vdom.Nodes(
//	        vdom.Div(vdom.Class("counter"),
//	            vdom.Span(vdom.Dyn("count")),
//	            vdom.Button(vdom.OnClick("increment"), "+"),
//	        ),
//	    )
//	}))
//
//	snap, err := render.Render(reg, render.ViewState{
//	    Root:    "counter",
//	    Assigns: render.Assigns{"count": 0},
//	})
//
// Render fails with a *RenderError when the view references an unregistered
// component, when components form a cycle, or when nesting exceeds MaxDepth.
//
// HTML and RenderPage write snapshots as markup for server-side previews.
package render
