package vdom

import (
	"strconv"
	"strings"
)

// attr creates an Attr with the given key and value.
func attr(key, value string) Attr {
	return Attr{Key: key, Value: value}
}

// A creates an arbitrary attribute.
func A(key, value string) Attr { return attr(key, value) }

// Identity attributes

// ID sets the id attribute.
func ID(id string) Attr { return attr("id", id) }

// Class sets the class attribute, joining multiple classes with spaces.
func Class(classes ...string) Attr { return attr("class", strings.Join(classes, " ")) }

// StyleAttr sets the style attribute.
func StyleAttr(style string) Attr { return attr("style", style) }

// Data creates a data-* attribute.
// Example: Data("id", "123") → data-id="123"
func Data(key, value string) Attr { return attr("data-"+key, value) }

// Role sets the role attribute.
func Role(role string) Attr { return attr("role", role) }

// AriaLabel sets the aria-label attribute.
func AriaLabel(label string) Attr { return attr("aria-label", label) }

// AriaLive sets the aria-live attribute.
func AriaLive(mode string) Attr { return attr("aria-live", mode) }

// Form attributes

// Type sets the type attribute.
func Type(t string) Attr { return attr("type", t) }

// Name sets the name attribute.
func Name(name string) Attr { return attr("name", name) }

// Value sets the value attribute.
func Value(value string) Attr { return attr("value", value) }

// Href sets the href attribute.
func Href(url string) Attr { return attr("href", url) }

// Disabled sets the boolean disabled attribute. A false value is dropped.
func Disabled(disabled bool) Attr {
	if !disabled {
		return Attr{}
	}
	return attr("disabled", "")
}

// Datetime sets the datetime attribute.
func Datetime(value string) Attr { return attr("datetime", value) }

// Tabindex sets the tabindex attribute.
func Tabindex(i int) Attr { return attr("tabindex", strconv.Itoa(i)) }

// Event bindings. The client emits the named event to the server when the
// DOM event fires on the element.

// EventAttrPrefix prefixes every event binding attribute.
const EventAttrPrefix = "live-"

// On binds a DOM event (e.g. "click") to a server event name.
func On(domEvent, event string) Attr { return attr(EventAttrPrefix+domEvent, event) }

// OnClick binds clicks to a server event name.
func OnClick(event string) Attr { return On("click", event) }

// OnSubmit binds form submission to a server event name.
func OnSubmit(event string) Attr { return On("submit", event) }

// OnChange binds input changes to a server event name.
func OnChange(event string) Attr { return On("change", event) }

// OnInput binds input events to a server event name.
func OnInput(event string) Attr { return On("input", event) }
