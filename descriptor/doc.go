// Package descriptor stages descriptor table writes and copies them into
// pooled shader-visible heaps.
//
// A context owns one [StagingCache] per heap kind. StageHandles only updates
// a host-side shadow of the active [Layout]; Commit, run right before each
// draw or dispatch, copies the tables that changed since the previous commit
// into the current heap and binds them. Heaps come from a [HeapPool] shared
// by all contexts and return to it tagged with the ticket of the batch that
// used them.
package descriptor
