// Package browser abstracts the controlled browser behind small Driver and
// Element interfaces. The session controller is written against these, so
// its logic is testable with a fake and the rod binding stays in one file.
//
// Selector convention: strings starting with "//" or ".//" are XPath,
// anything else is CSS. The locator table in config relies on this.
package browser

import (
	"context"
	"strings"
	"time"
)

// Driver is one worker's exclusive browser instance. Implementations are not
// safe for concurrent use; each worker owns exactly one Driver at a time.
type Driver interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// Back returns to the previous history entry.
	Back(ctx context.Context) error
	// URL reports the current page address.
	URL(ctx context.Context) (string, error)
	// HTML returns the full page source.
	HTML(ctx context.Context) (string, error)
	// Element waits up to timeout for the first match.
	Element(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// Elements returns all current matches without waiting.
	Elements(ctx context.Context, selector string) ([]Element, error)
	// Eval runs js (an arrow function) with args and returns the result
	// rendered as a string.
	Eval(ctx context.Context, js string, args ...any) (string, error)
	// PID reports the browser process id, or 0 when unknown.
	PID() int
	// Close quits the browser gracefully.
	Close() error
	// ForceKill terminates the browser process without handshake. Used by
	// teardown when Close does not return in time.
	ForceKill()
}

// Element is a handle to one DOM node.
type Element interface {
	Click(ctx context.Context) error
	Input(ctx context.Context, text string) error
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value; ok is false when absent.
	Attribute(ctx context.Context, name string) (value string, ok bool, err error)
	// Element finds the first match inside this node.
	Element(ctx context.Context, selector string) (Element, error)
	// Elements finds all matches inside this node.
	Elements(ctx context.Context, selector string) ([]Element, error)
	// Eval runs js with this node bound as `this`.
	Eval(ctx context.Context, js string, args ...any) (string, error)
}

// Factory creates fresh drivers. The session controller uses it to replace a
// browser whose DevTools session has died mid-account.
type Factory interface {
	New(ctx context.Context) (Driver, error)
}

// IsXPath reports whether selector uses the XPath convention.
func IsXPath(selector string) bool {
	return strings.HasPrefix(selector, "//") || strings.HasPrefix(selector, ".//") ||
		strings.HasPrefix(selector, "(")
}

// sessionLossMarkers are the error fragments DevTools produces when the
// browser process or its target has gone away underneath us. Matching is
// case-insensitive substring.
var sessionLossMarkers = []string{
	"invalid session",
	"session deleted",
	"not reachable",
	"crashed",
	"disconnected",
	"no such session",
	"target closed",
	"browser has been closed",
	"use of closed network connection",
}

// IsSessionLoss classifies err as a dead-browser condition, which the
// session controller handles by recreating the driver and retrying the same
// account rather than failing it.
func IsSessionLoss(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range sessionLossMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
