package fleet

import (
	"context"
	"fmt"
	"net/http"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// SweepFunc runs one housekeeping pass (idle filter-cache eviction via
// ocache.OCache.Sweep, typically). Both the local ticker and the Cloud
// Tasks-driven HTTP handler below call the same SweepFunc so a device
// behaves identically under either scheduling source.
type SweepFunc func()

// LocalSweeper runs sweep on a fixed local interval, the default when no
// fleet-wide scheduler is configured. cmd/adiskd passes it ocache.OCache's
// Sweep, which runs alongside the cache's own evictLoop ticker.
type LocalSweeper struct {
	sweep    SweepFunc
	interval time.Duration
	stopCh   chan struct{}
}

// NewLocalSweeper builds a sweeper that has not yet started.
func NewLocalSweeper(sweep SweepFunc, interval time.Duration) *LocalSweeper {
	return &LocalSweeper{sweep: sweep, interval: interval, stopCh: make(chan struct{})}
}

// Run ticks until Stop is called.
func (s *LocalSweeper) Run() {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.sweep()
		}
	}
}

// Stop ends the sweeper's ticker loop.
func (s *LocalSweeper) Stop() {
	close(s.stopCh)
}

// CloudTasksScheduler enqueues a recurring HTTP task against a device's own
// sweep endpoint, letting a fleet operator drive every device's
// housekeeping cadence from one place instead of each device's local
// ticker — useful when devices are suspended/resumed on a schedule the
// operator controls and a purely local ticker would drift out of step.
type CloudTasksScheduler struct {
	client    *cloudtasks.Client
	queuePath string
	targetURL string
}

// NewCloudTasksScheduler connects to the named queue. targetURL is the
// device's sweep endpoint (see SweepHandler).
func NewCloudTasksScheduler(ctx context.Context, projectID, locationID, queueID, targetURL string) (*CloudTasksScheduler, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("fleet: cloudtasks.NewClient: %w", err)
	}
	return &CloudTasksScheduler{
		client:    client,
		queuePath: fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID),
		targetURL: targetURL,
	}, nil
}

// ScheduleSweep enqueues one sweep task to run at delay from now. Callers
// wanting a recurring cadence call this again from the previous task's own
// handler (SweepHandler) to re-arm it, rather than relying on Cloud Tasks'
// own retry semantics, which are for failure retry, not scheduling.
func (c *CloudTasksScheduler) ScheduleSweep(ctx context.Context, delay time.Duration) error {
	req := &taskspb.CreateTaskRequest{
		Parent: c.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        c.targetURL,
				},
			},
			ScheduleTime: timestamppb.New(time.Now().Add(delay)),
		},
	}
	_, err := c.client.CreateTask(ctx, req)
	if err != nil {
		return fmt.Errorf("fleet: enqueue sweep task: %w", err)
	}
	return nil
}

// Close closes the underlying Cloud Tasks client.
func (c *CloudTasksScheduler) Close() error {
	return c.client.Close()
}

// SweepHandler serves the HTTP endpoint a Cloud Tasks-enqueued task hits;
// it runs sweep and re-arms the next task at the same interval, so the
// chain keeps itself going without needing Cloud Scheduler as well.
func SweepHandler(sweep SweepFunc, scheduler *CloudTasksScheduler, interval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sweep()
		if scheduler != nil {
			if err := scheduler.ScheduleSweep(r.Context(), interval); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
