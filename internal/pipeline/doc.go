// Package pipeline converts one raw episode tree into committed dataset
// output. It chains layout probing, stream loading, camera sync, and
// alignment into the dataset writer; queue and transfer concerns stay with
// the caller.
package pipeline
