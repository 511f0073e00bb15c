// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package backup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/unraid-api/internal/config"
	"github.com/tomtom215/unraid-api/internal/jobs"
	"github.com/tomtom215/unraid-api/internal/logging"
	"github.com/tomtom215/unraid-api/internal/metrics"
	"github.com/tomtom215/unraid-api/internal/polling"
	"github.com/tomtom215/unraid-api/internal/pubsub"
	"github.com/tomtom215/unraid-api/internal/subscription"
)

// Trigger labels who started a backup.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

var (
	// ErrUnknownConfig is returned when no backup job config has the given ID.
	ErrUnknownConfig = errors.New("unknown backup job config")

	// ErrAlreadyRunning is returned when the config already has a job in the engine.
	ErrAlreadyRunning = errors.New("backup job already running")
)

// jobGoneMessage is recorded on tracked jobs the engine has forgotten.
const jobGoneMessage = "Job no longer known to engine"

// DetailedStatus is a coarse label derived from the engine's raw flags.
type DetailedStatus string

const (
	DetailedRunning   DetailedStatus = "Running"
	DetailedCompleted DetailedStatus = "Completed"
	DetailedError     DetailedStatus = "Error"
)

// JobView is the merged engine and tracker view of one backup job.
type JobView struct {
	ID             string         `json:"id"`
	Group          string         `json:"group"`
	ConfigID       string         `json:"config_id,omitempty"`
	Name           string         `json:"name,omitempty"`
	TrackedJobID   string         `json:"tracked_job_id,omitempty"`
	State          jobs.State     `json:"status"`
	DetailedStatus DetailedStatus `json:"detailed_status"`
	Progress       float64        `json:"progress"`
	Stats          *EngineStats   `json:"stats,omitempty"`
	Message        string         `json:"message,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartTime      *time.Time     `json:"start_time,omitempty"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
}

// TopicRegistrar is the part of the subscription tracker the orchestrator
// needs to gate progress polling on subscribers.
type TopicRegistrar interface {
	RegisterFactory(prefix string, f subscription.Factory)
}

// progressEntry lives while a job's progress topic has subscribers.
type progressEntry struct {
	// final is the terminal view, once polling has seen one.
	final *JobView
}

// Orchestrator bridges the job engine, the job tracker and progress
// subscribers.
type Orchestrator struct {
	engine    JobEngine
	tracker   *jobs.Tracker
	topics    TopicRegistrar
	publisher Publisher
	cfg       config.BackupConfig

	configs map[string]config.BackupJobConfig

	// mu guards progress. It is taken from subscription callbacks that run
	// under a topic lock, so it must not be held while calling the tracker.
	mu       sync.Mutex
	progress map[string]*progressEntry
}

// NewOrchestrator wires the facade. topics and publisher may be nil, in
// which case progress is neither polled nor published. With topics set,
// progress topics get a polling producer while they have subscribers.
func NewOrchestrator(engine JobEngine, tracker *jobs.Tracker, topics TopicRegistrar, publisher Publisher, cfg config.BackupConfig) *Orchestrator {
	configs := make(map[string]config.BackupJobConfig, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		configs[jc.ID] = jc
	}
	o := &Orchestrator{
		engine:    engine,
		tracker:   tracker,
		topics:    topics,
		publisher: publisher,
		cfg:       cfg,
		configs:   configs,
		progress:  make(map[string]*progressEntry),
	}
	if topics != nil {
		topics.RegisterFactory(pubsub.BackupJobProgressPrefix+":", o.progressHandler)
	}
	return o
}

// Configs returns the configured backup jobs sorted by ID.
func (o *Orchestrator) Configs() []config.BackupJobConfig {
	out := make([]config.BackupJobConfig, 0, len(o.configs))
	for _, jc := range o.configs {
		out = append(out, jc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Config looks up one configured job.
func (o *Orchestrator) Config(id string) (config.BackupJobConfig, bool) {
	jc, ok := o.configs[id]
	return jc, ok
}

// GroupFor is the engine group used for jobs of a config.
func (o *Orchestrator) GroupFor(configID string) string {
	return o.cfg.GroupPrefix + configID
}

func (o *Orchestrator) ownsGroup(group string) bool {
	return strings.HasPrefix(group, o.cfg.GroupPrefix)
}

// ListActiveJobs returns the engine's backup jobs merged with tracker
// metadata. Jobs from other groups are left out. An unreachable engine
// yields an empty list.
func (o *Orchestrator) ListActiveJobs(ctx context.Context) []JobView {
	all, err := o.engine.GetAllJobsWithStats(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list backup jobs from engine")
		return []JobView{}
	}

	views := make([]JobView, 0, len(all))
	for i := range all {
		if !o.ownsGroup(all[i].Group) {
			continue
		}
		views = append(views, o.view(&all[i]))
	}
	return views
}

// GetJobStatus fetches one job from the engine. It returns nil when the
// engine cannot be reached or does not know the job.
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID string) *JobView {
	v, err := o.lookup(ctx, jobID)
	switch {
	case errors.Is(err, ErrJobNotFound):
		logging.Debug().Str("external_job_id", jobID).Msg("Backup job not known to engine")
		return nil
	case err != nil:
		logging.Error().Err(err).Str("external_job_id", jobID).Msg("Failed to get backup job status")
		return nil
	}
	return v
}

func (o *Orchestrator) lookup(ctx context.Context, jobID string) (*JobView, error) {
	raw, err := o.engine.GetJobStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	v := o.view(raw)
	return &v, nil
}

// view translates the engine's flags and merges the tracked entry, if any.
func (o *Orchestrator) view(raw *EngineJob) JobView {
	v := JobView{
		ID:    raw.ID,
		Group: raw.Group,
		Name:  raw.Group,
		State: jobs.StateRunning,
		Stats: raw.Stats,
		Error: raw.Error,
	}
	if id, ok := strings.CutPrefix(raw.Group, o.cfg.GroupPrefix); ok {
		v.ConfigID = id
		if jc, known := o.configs[id]; known {
			v.Name = jc.Name
		}
	}
	if raw.Stats != nil {
		v.Progress = raw.Stats.Percentage
	}
	if !raw.StartTime.IsZero() {
		start := raw.StartTime
		v.StartTime = &start
	}

	switch {
	case raw.Finished && raw.Success:
		v.State = jobs.StateCompleted
		v.Progress = 100
	case raw.Finished:
		v.State = jobs.StateFailed
	}
	switch {
	case raw.Error != "":
		v.DetailedStatus = DetailedError
	case raw.Finished:
		v.DetailedStatus = DetailedCompleted
	default:
		v.DetailedStatus = DetailedRunning
	}
	if raw.Finished && !raw.EndTime.IsZero() {
		end := raw.EndTime
		v.EndTime = &end
	}

	if tracked := o.tracker.GetJobStatusByExternalID(raw.ID); tracked != nil {
		v.TrackedJobID = tracked.ID
		v.Name = tracked.Name
		v.Message = tracked.Message
		// A cancel is recorded locally; the engine only sees a failure.
		if tracked.State == jobs.StateCancelled && raw.Finished {
			v.State = jobs.StateCancelled
		}
	}
	return v
}

// ReconcileJob pulls the engine status of a job into the tracker, if the
// job is tracked, and returns the merged view. A tracked job the engine
// has forgotten is marked FAILED, as its outcome can no longer be learned.
// It returns nil when the engine cannot answer, or when neither the engine
// nor the tracker knows the job.
func (o *Orchestrator) ReconcileJob(ctx context.Context, jobID string) *JobView {
	v, err := o.lookup(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		return o.markGone(jobID)
	}
	if err != nil {
		logging.Error().Err(err).Str("external_job_id", jobID).Msg("Failed to get backup job status")
		return nil
	}
	if v.TrackedJobID == "" {
		return v
	}

	u := jobs.ProgressUpdate(v.State, int(math.Round(v.Progress)))
	if v.Error != "" {
		u = u.WithError(v.Error)
	}
	switch v.State {
	case jobs.StateCompleted:
		u = u.WithMessage("Backup completed.")
	case jobs.StateFailed:
		u = u.WithMessage("Backup failed.")
	}

	if st := o.tracker.UpdateJobStatusByExternalID(jobID, u); st != nil {
		v.TrackedJobID = st.ID
		v.Message = st.Message
		if st.State.IsTerminal() {
			v.State = st.State
		}
	}
	return v
}

func (o *Orchestrator) markGone(jobID string) *JobView {
	st := o.tracker.GetJobStatusByExternalID(jobID)
	if st == nil {
		return nil
	}
	if !st.State.IsTerminal() {
		u := jobs.StateUpdate(jobs.StateFailed).WithMessage(jobGoneMessage).WithError(jobGoneMessage)
		if updated := o.tracker.UpdateJobStatusByExternalID(jobID, u); updated != nil {
			st = updated
		}
		logging.Warn().
			Str("job_id", st.ID).
			Str("external_job_id", jobID).
			Msg("Backup job no longer known to engine, marked failed")
	}
	v := trackedView(*st)
	return &v
}

// trackedView builds a view from the tracker alone, for jobs the engine
// no longer reports.
func trackedView(st jobs.Status) JobView {
	start := st.StartTime
	v := JobView{
		ID:           st.ExternalJobID,
		Name:         st.Name,
		TrackedJobID: st.ID,
		State:        st.State,
		Progress:     float64(st.Progress),
		Message:      st.Message,
		Error:        st.Error,
		StartTime:    &start,
		EndTime:      st.EndTime,
	}
	switch {
	case st.Error != "":
		v.DetailedStatus = DetailedError
	case st.State.IsTerminal():
		v.DetailedStatus = DetailedCompleted
	default:
		v.DetailedStatus = DetailedRunning
	}
	return v
}

// ReconcileAll reconciles every tracked job that is not yet terminal. It
// runs as a polling task so jobs without progress subscribers still reach
// a final state.
func (o *Orchestrator) ReconcileAll(ctx context.Context) error {
	for _, st := range o.tracker.GetAllJobStatuses() {
		if st.State.IsTerminal() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		o.ReconcileJob(ctx, st.ExternalJobID)
	}
	return nil
}

// PublishProgress sends v on the job's progress topic.
func (o *Orchestrator) PublishProgress(ctx context.Context, jobID string, v JobView) error {
	if o.publisher == nil {
		return nil
	}
	topic := pubsub.BackupJobProgressTopic(jobID)
	if err := o.publisher.Publish(ctx, topic, v); err != nil {
		logging.Error().Err(err).Str("topic", topic).Str("external_job_id", jobID).Msg("Failed to publish backup progress")
		return err
	}
	return nil
}

// StartBackup dispatches a configured job to the engine and starts
// tracking it.
func (o *Orchestrator) StartBackup(ctx context.Context, configID, trigger string) (*jobs.Status, error) {
	jc, ok := o.configs[configID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConfig, configID)
	}
	return o.Start(ctx, jc, trigger)
}

// Start dispatches jc to the engine. jc does not have to be a configured
// job; ad-hoc runs use the same group naming.
func (o *Orchestrator) Start(ctx context.Context, jc config.BackupJobConfig, trigger string) (*jobs.Status, error) {
	group := o.GroupFor(jc.ID)

	if o.isRunning(ctx, group) {
		metrics.BackupJobsStarted.WithLabelValues(trigger, "skipped").Inc()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, jc.ID)
	}

	extID, err := o.engine.StartJob(ctx, StartRequest{
		Group:       group,
		Source:      jc.SourcePath,
		Destination: destination(jc),
		Mirror:      jc.Mirror,
	})
	if err != nil {
		metrics.BackupJobsStarted.WithLabelValues(trigger, "error").Inc()
		logging.Error().Err(err).Str("config_id", jc.ID).Str("trigger", trigger).Msg("Failed to start backup job")
		return nil, fmt.Errorf("start backup %s: %w", jc.ID, err)
	}
	metrics.BackupJobsStarted.WithLabelValues(trigger, "success").Inc()

	st := o.tracker.InitializeJob(extID, jc.Name)
	if updated := o.tracker.UpdateJobStatus(st.ID, jobs.StateUpdate(jobs.StateRunning).WithMessage("Backup started.")); updated != nil {
		st = *updated
	}

	logging.Info().
		Str("job_id", st.ID).
		Str("external_job_id", extID).
		Str("config_id", jc.ID).
		Str("trigger", trigger).
		Msg("Backup job started")
	return &st, nil
}

func (o *Orchestrator) isRunning(ctx context.Context, group string) bool {
	all, err := o.engine.GetAllJobsWithStats(ctx)
	if err != nil {
		return false
	}
	for i := range all {
		if all[i].Group == group && !all[i].Finished {
			return true
		}
	}
	return false
}

func destination(jc config.BackupJobConfig) string {
	return jc.RemoteName + ":" + strings.TrimPrefix(jc.DestinationPath, "/")
}

// CancelJob stops a job in the engine and marks it cancelled locally.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	if err := o.engine.StopJob(ctx, jobID); err != nil {
		logging.Error().Err(err).Str("external_job_id", jobID).Msg("Failed to cancel backup job")
		return fmt.Errorf("cancel backup job %s: %w", jobID, err)
	}
	o.tracker.UpdateJobStatusByExternalID(jobID, jobs.StateUpdate(jobs.StateCancelled).WithMessage("Backup cancelled."))
	logging.Info().Str("external_job_id", jobID).Msg("Backup job cancelled")
	return nil
}

// progressHandler builds the producer of one job's progress topic. It runs
// under the topic lock when the first subscriber arrives.
func (o *Orchestrator) progressHandler(topic string) subscription.Handler {
	jobID, ok := pubsub.JobIDFromProgressTopic(topic)
	if !ok {
		return nil
	}
	e := &progressEntry{}
	o.mu.Lock()
	o.progress[jobID] = e
	o.mu.Unlock()

	h := subscription.PollingHandler(o.cfg.ProgressInterval, o.pollProgress(jobID, e))
	return subscription.OnStop(h, func() {
		o.mu.Lock()
		if o.progress[jobID] == e {
			delete(o.progress, jobID)
		}
		o.mu.Unlock()
	})
}

// PrepareTopic admits progress topics of jobs that are tracked or that the
// engine runs in a backup group, so clients can also follow jobs started
// before this process or outside it. If the topic is live and its job has
// already finished, the final state is published again for the newcomer,
// since polling has stopped and would not repeat it.
func (o *Orchestrator) PrepareTopic(ctx context.Context, topic string) bool {
	jobID, ok := pubsub.JobIDFromProgressTopic(topic)
	if !ok || o.topics == nil {
		return false
	}

	o.mu.Lock()
	e, live := o.progress[jobID]
	var final *JobView
	if live {
		final = e.final
	}
	o.mu.Unlock()

	if !live && !o.knownJob(ctx, jobID) {
		logging.Debug().Str("topic", topic).Msg("Refusing progress topic of unknown backup job")
		return false
	}
	if final != nil {
		_ = o.PublishProgress(ctx, jobID, *final)
	}
	return true
}

func (o *Orchestrator) knownJob(ctx context.Context, jobID string) bool {
	if o.tracker.GetJobStatusByExternalID(jobID) != nil {
		return true
	}
	raw, err := o.engine.GetJobStatus(ctx, jobID)
	return err == nil && raw != nil && o.ownsGroup(raw.Group)
}

// pollProgress publishes the job's merged view on every tick and stops its
// own task once the job is terminal.
func (o *Orchestrator) pollProgress(jobID string, e *progressEntry) polling.Func {
	return func(ctx context.Context) error {
		v := o.ReconcileJob(ctx, jobID)
		if v == nil {
			return nil
		}
		// Stopped while the engine call was in flight.
		if err := ctx.Err(); err != nil {
			return err
		}

		terminal := v.State.IsTerminal()
		if terminal {
			// Recorded before publishing so a subscriber admitted in
			// between gets it from PrepareTopic.
			final := *v
			o.mu.Lock()
			e.final = &final
			o.mu.Unlock()
		}
		if err := o.PublishProgress(ctx, jobID, *v); err != nil {
			return err
		}
		if terminal {
			logging.Debug().Str("external_job_id", jobID).Msg("Backup job finished, progress polling stopped")
			return polling.ErrTaskDone
		}
		return nil
	}
}
