// Package registry implements the visited-set that makes crawls terminate.
//
// Every canonical URL passes through TryAdmit exactly once; admission is
// the single point where resource records are created, which is what lets
// the rest of the crawler mutate records without locks.
package registry
