// Package vtest provides testing helpers for live views.
//
// A Client plays the role of a browser: it mounts a view through a
// dispatcher, sends events, applies every patch to its copy of the page and
// checks that the patched page matches a fresh render of the session.
//
// # Quick Start
//
//	func TestCounter(t *testing.T) {
//	    c := vtest.NewClient(t, d, "counter", live.Payload{"start": 1})
//	    c.Send("increment", nil)
//	    c.ExpectContains("2")
//	}
//
// # Disconnects
//
// Session lifecycle can be simulated without a network connection:
//
//	c.SimulateDisconnect()
//	c.SimulateReconnect() // resumes with the last resume token
//	c.Send("increment", nil)
//
// # Render Assertions
//
// Assert on the HTML of the client's page:
//
//	c.ExpectElement("button")
//	c.ExpectAttribute("class", "counter")
//	c.ExpectNotContains("error")
package vtest
