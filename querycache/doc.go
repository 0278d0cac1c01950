// Package querycache is the application's query cache: the store of fetched listings,
// leads and dashboard data the UI reads from. The resolver invalidates it on sign-in and
// clears it on sign-out so one identity never sees another identity's data.
//
// Entries are tagged with the cache generation they were loaded in. [Cache.InvalidateAll]
// and [Cache.Clear] advance the generation, which makes every older entry invisible and
// stops any load already in flight from writing its result back.
package querycache
