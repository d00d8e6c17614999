// Package planner splits an arbitrary backfill range into vendor-legal
// date windows.
package planner

import "time"

// Window is one bounded date range submitted to the vendor API in a single
// logical fetch. Ranges are half-open: [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Plan partitions [start, end) into consecutive, non-overlapping windows of
// at most maxWindow, newest first, so partial progress covers the most
// recent data if a sync is interrupted. The oldest window is clipped to
// start when the range is not an exact multiple of maxWindow. A zero or
// negative range yields an empty plan.
func Plan(start, end time.Time, maxWindow time.Duration) []Window {
	if maxWindow <= 0 || !start.Before(end) {
		return nil
	}

	var windows []Window
	for cursor := end; cursor.After(start); {
		winStart := cursor.Add(-maxWindow)
		if winStart.Before(start) {
			winStart = start
		}
		windows = append(windows, Window{Start: winStart, End: cursor})
		cursor = winStart
	}
	return windows
}
