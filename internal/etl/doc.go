// Package etl implements the Express Entry draw history pipeline: the record
// types, the error taxonomy, the collaborator interfaces and the Pipeline that
// runs fetch, extract, transform and load in sequence.
package etl
