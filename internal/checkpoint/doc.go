// Package checkpoint provides etl.Journal implementations. The File journal
// appends "<timestamp>,<message>" lines to a plain text log; the Zap journal
// mirrors checkpoints into structured logs; Multi fans out to several.
package checkpoint
