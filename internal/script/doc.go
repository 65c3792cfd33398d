// Package script tracks script files and evaluates them lazily.
//
// A Registry never evaluates a script on add or watch. RunScript evaluates a
// script only when it is not loaded and then invokes its export; ReloadScript
// evaluates unconditionally. Watched scripts are invalidated when their file
// changes and follow same-directory renames.
package script
