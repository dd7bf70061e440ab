// Package sessions tracks the idle status of authenticated principals.
//
// Idle evaluation is lazy: a record is reported inactive once its last
// activity is older than the idle timeout at read time. No timer runs.
//
// Two Tracker implementations exist. InMemTracker keeps records in process
// memory and starts empty; everything is lost on restart. RedisTracker keeps
// one hash per principal with a TTL of twice the idle timeout and survives
// restarts.
package sessions
