// Package episode reads raw robot-demonstration episodes from disk.
//
// An episode is a directory holding four joint-state series (left/right arm,
// follower/leader role) and one image sequence per camera. Two directory
// conventions exist in the field: the current one (joints/left_follower.jsonl,
// images/<camera>/) and a legacy one (joints/puppet_left.jsonl,
// cameras/<camera>/). ResolveLayout probes for either so callers never branch
// on convention themselves.
package episode
