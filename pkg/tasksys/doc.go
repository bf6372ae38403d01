// Package tasksys implements the development task dispatcher for tidygraph-py.
// Tasks are declared in a Starlark taskfile (tasks.star) and executed through
// mvdan.cc/sh which means no external shell is required. A built-in taskfile
// covering the usual packaging chores (build, fmt, test, schema, upload) is
// embedded and used whenever a project doesn't provide its own.
package tasksys
