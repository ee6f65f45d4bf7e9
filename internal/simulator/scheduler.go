package simulator

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/haatos/runbatch/internal/store"
)

func NewScheduler() gocron.Scheduler {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal(err)
	}
	return scheduler
}

// ScheduleRetention registers an hourly job removing completed batches that
// ended more than retention ago.
func ScheduleRetention(
	s gocron.Scheduler,
	batchStore store.BatchStore,
	retention time.Duration,
) (gocron.Job, error) {
	return s.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			if _, err := PruneBatches(context.Background(), batchStore, retention); err != nil {
				log.Println("err pruning finished batches:", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
}

func PruneBatches(
	ctx context.Context,
	batchStore store.BatchStore,
	retention time.Duration,
) (int64, error) {
	n, err := batchStore.DeleteBatchesEndedBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("pruned %d finished batches\n", n)
	}
	return n, nil
}
