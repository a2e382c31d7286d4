// Package notify schedules and delivers user notifications.
//
// The engine raises notifications through a Batch while a transaction is
// open and flushes the batch into a Scheduler after commit. The scheduler
// pushes onto a Queue ordered by delivery time; a Dispatcher polls the queue
// and hands due notifications to a Sink with exponential backoff retry.
//
//	pipeline, err := notify.NewFromConfig(ctx, cfg, logger, m)
//	go pipeline.Dispatcher.Run(ctx)
//
//	var batch notify.Batch
//	batch.Add(notify.KindReviewReminder, customerID, "How was your meal?", now.Add(30*time.Minute))
//	// ... commit ...
//	batch.Flush(ctx, pipeline.Scheduler, logger)
//
// Queues: RedisQueue (sorted set, shared between processes) and MemoryQueue.
// Sinks: KafkaSink and LogSink.
package notify
