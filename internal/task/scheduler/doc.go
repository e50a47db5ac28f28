// Package scheduler registers named cron, daily, weekly and one-shot triggers.
//
// The scheduler never runs jobs itself: each trigger enqueues an engine.Task
// and the task engine executes it on its worker pool.
package scheduler
