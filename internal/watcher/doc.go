// Package watcher observes script files for changes and renames.
//
// Watcher multiplexes a single fsnotify instance across any number of path
// registrations and debounces bursts of events per path. Adapter builds on it
// to translate raw directory events for one file into the two notifications
// the script registry understands: Changed and Renamed.
//
// Delivery is best-effort: events may be coalesced under load, so callbacks
// should invalidate state rather than count events.
package watcher
