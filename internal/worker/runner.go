package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnRunnerPool spawns N job runner goroutines
func (w *Worker) spawnRunnerPool(ctx context.Context) {
	w.logger.Info("Spawning job runner pool",
		slog.Int("job_runners", w.jobRunners),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.jobRunners; i++ {
		w.wg.Add(1)
		go w.runnerLoop(ctx, i)
	}
}

// runnerLoop drives one job at a time through the pipeline controller
func (w *Worker) runnerLoop(ctx context.Context, runnerNum int) {
	defer w.wg.Done()

	runnerName := fmt.Sprintf("%s-%d", w.workerID, runnerNum)
	w.logger.Info("Job runner started",
		slog.String("runner_name", runnerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Job runner stopping - stopChan closed",
				slog.String("runner_name", runnerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Job runner stopping - context canceled",
				slog.String("runner_name", runnerName),
			)
			return

		case msg, ok := <-w.runsChan:
			if !ok {
				w.logger.Info("Job runner stopping - runsChan closed",
					slog.String("runner_name", runnerName),
				)
				return
			}

			w.logger.Info("Runner received job",
				slog.String("runner_name", runnerName),
				slog.String("job_id", msg.JobID),
				slog.Uint64("delivery_tag", msg.DeliveryTag),
			)

			err := w.controller.Run(ctx, msg.JobID)

			if err != nil {
				w.logger.Error("Job run failed",
					slog.String("runner_name", runnerName),
					slog.String("job_id", msg.JobID),
					slog.String("error", err.Error()),
				)

				requeue := shouldRequeue(err)

				if nackErr := w.rabbitClient.Nack(msg.DeliveryTag, requeue); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("runner_name", runnerName),
						slog.String("job_id", msg.JobID),
						slog.String("error", nackErr.Error()),
					)
				} else {
					w.logger.Info("Message NACKed",
						slog.String("runner_name", runnerName),
						slog.String("job_id", msg.JobID),
						slog.Bool("requeue", requeue),
					)
				}
				continue
			}

			if ackErr := w.rabbitClient.Ack(msg.DeliveryTag); ackErr != nil {
				w.logger.Error("Failed to ACK message",
					slog.String("runner_name", runnerName),
					slog.String("job_id", msg.JobID),
					slog.String("error", ackErr.Error()),
				)
			} else {
				w.logger.Info("Job run finished",
					slog.String("runner_name", runnerName),
					slog.String("job_id", msg.JobID),
				)
			}
		}
	}
}
