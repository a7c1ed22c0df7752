package scheduler

// ReclaimJob exposes the single job step of ReclaimStale.
var ReclaimJob = (*Reaper).reclaim
