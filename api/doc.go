// Package api exposes the queue over HTTP: task CRUD, the administrative
// purge, worker control, and a server-sent event stream of task changes.
//
// Failure bodies follow a {"detail": ...} convention. Administrative
// routes (purge, worker start/stop/run-once) are available only when the
// server runs in debug mode and return 403 otherwise.
package api
