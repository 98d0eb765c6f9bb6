// Package arena provides transient device memory for recording contexts.
//
// A [PageManager] recycles fixed-size pages of one [Kind]: small
// device-exclusive pages for shader scratch memory and larger, permanently
// mapped host-visible pages for uploads. An [Allocator] belongs to one
// context and bump-allocates [DynAlloc] ranges out of its current page. When
// the context finishes, every page it touched is retired with the batch's
// ticket and handed out again only once that ticket completes.
//
// Requests larger than a page get a one-off page that is destroyed, not
// reused, after its ticket completes.
package arena
