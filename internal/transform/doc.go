// Package transform defines the per-record transformer stages applied
// between the source consumer and the destination producer. Stages are
// registered by name and composed into a chain by the engine; a stage may
// rewrite, fan out, or drop a record, but the record's source coordinates
// travel through unchanged so offset commits stay correct.
package transform
