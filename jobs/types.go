package jobs

import (
	"context"

	"hearth/libs"
)

type Origin string

const (
	OriginScheduler Origin = "scheduler"
	OriginOperator  Origin = "operator"
	OriginRetry     Origin = "retry"
	OriginEvent     Origin = "event"
)

// Body is the unit of work a job family runs under its lock.
type Body func(ctx context.Context) error

// Attempt is the outcome of one TryRun. Ran is false when the lock was held
// and the job was skipped.
type Attempt[T any] struct {
	Ran    bool
	Result T
}

var (
	ErrUnknownJob = libs.Error{
		Code: "UNKNOWN_JOB",
		Msg:  "job family is not registered"}
	ErrJobAlreadyRunning = libs.Error{
		Code: "JOB_ALREADY_RUNNING",
		Msg:  "job is already running"}
	ErrJobPanic = libs.Error{
		Code: "JOB_PANIC",
		Msg:  "job panicked"}
	ErrJobIncomplete = libs.Error{
		Code: "JOB_INCOMPLETE",
		Msg:  "job did not reach every endpoint"}
	ErrRunnerRunning = libs.Error{
		Code: "RUNNER_RUNNING",
		Msg:  "runner has been started already"}
	ErrInvalidSchedule = libs.Error{
		Code: "INVALID_SCHEDULE",
		Msg:  "invalid schedule configuration"}
)

type originKey struct{}

func withOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom reports which trigger started the job running under ctx.
func OriginFrom(ctx context.Context) Origin {
	origin, ok := ctx.Value(originKey{}).(Origin)
	if !ok {
		return OriginOperator
	}

	return origin
}
