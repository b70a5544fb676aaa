// Package rsync makes the objects below a destination root match those
// below a source root with as few copies and removals as possible.
//
// A pass runs in four stages:
//
//   - a Producer lists each root, concurrently, into a Sorter, which spills
//     sorted chunks to disk and merges them, so neither listing has to fit
//     in memory;
//   - a Generator merge-joins the two sorted listings and asks the Oracle
//     whether entries present on both sides differ;
//   - an Applier hands the resulting actions to an Executor, one at a time
//     or in parallel;
//   - the Transfer executor copies with server-side copies where the
//     backend allows and validated streaming everywhere else.
//
// Entries that are already in sync never become actions, so running a
// pass again after a partial failure only redoes what is left.
//
// Equality is decided on size, then md5, then crc32c. When neither side
// reports a common digest the sizes decide and a warning is logged. Case
// differences are not folded: syncing to a case-insensitive filesystem
// can copy and remove the same file on every pass.
package rsync
