// Package video manages recording artifacts bound to executions.
//
// A recording starts the instant its execution enters running and is
// finalized on the terminal transition. Finalized artifacts carry an
// expiry derived from the configured retention period; the sweeper
// deletes expired files before their metadata so a crash mid-sweep can
// orphan a record but never serve a dangling file reference. Recording
// failures flag the execution video_unavailable and never block it.
package video
