// Package live defines views: a root component plus the event handlers that
// mutate a session's assigns.
//
// Handlers are bound by event name when the view is built, so dispatch is a
// map lookup:
//
//	v := live.NewView("counter", "counter").
//	    WithMount(func(ctx context.Context, p live.Payload) (render.Assigns, error) {
//	        return render.Assigns{"count": 0}, nil
//	    }).
//	    On("increment", live.Sync(func(a render.Assigns, p live.Payload) error {
//	        a["count"] = a.IntOr("count", 0) + 1
//	        return nil
//	    }))
//
// A Sync handler is a pure function of assigns and payload. An Async handler
// also receives a context and may do I/O; the context is cancelled when the
// client disconnects.
package live
