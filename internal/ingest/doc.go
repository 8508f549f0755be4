// Package ingest moves recordings from the volume into the local library.
//
// Migrate runs the strict sequence for one file: copy into the staging
// directory, verify size and digest, rename into raw/, durably record the
// ledger entry, and only then delete the source. A failure at any step stops
// that file without advancing. A failed source deletion never rolls back the
// ledger entry; RetryDelete repeats the deletion alone on a later cycle.
package ingest
