package models

import "time"

// RunStatus represents the state of a deployment run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

// Stage names a pipeline step, in execution order.
type Stage string

const (
	StageInput     Stage = "input"
	StageSync      Stage = "sync"
	StageDetect    Stage = "detect"
	StageConnect   Stage = "connect"
	StageBootstrap Stage = "bootstrap"
	StageTransfer  Stage = "transfer"
	StageDeploy    Stage = "deploy"
	StageProxy     Stage = "proxy"
	StageValidate  Stage = "validate"
)

// Stages lists the stages the pipeline executes after input collection.
var Stages = []Stage{
	StageSync,
	StageDetect,
	StageConnect,
	StageBootstrap,
	StageTransfer,
	StageDeploy,
	StageProxy,
	StageValidate,
}

// Run is the persisted record of one deployment.
type Run struct {
	ID          string
	RepoURL     string
	Branch      string
	Host        string
	SSHUser     string
	AppPort     int
	AppName     string
	Method      Method
	Commit      string
	Status      RunStatus
	FailedStage Stage
	Error       string
	LogPath     string
	StartedAt   time.Time
	EndedAt     *time.Time
}

// StageStatus is the outcome of a single stage.
type StageStatus string

const (
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// StageResult records how one stage of a run ended.
type StageResult struct {
	ID        int64
	RunID     string
	Stage     Stage
	Status    StageStatus
	Detail    string
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration returns how long the stage took.
func (s *StageResult) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}
