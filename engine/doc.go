// Package engine wires the hoist subsystems together and provides the
// primary application-level API for registering and enqueuing work.
//
// The engine package exists to break a fundamental import cycle: the
// root hoist package defines Entity and the shared error values
// (imported by job, cron, cluster, etc.) and therefore cannot import
// those packages back. Engine sits above all subsystem packages and
// below the application layer.
//
// # Building an Engine
//
//	backend := memory.New()
//
//	eng, err := engine.New(backend, hoist.DefaultConfig(),
//	    engine.WithLogger(logger),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithQueueConfig(queue.Config{
//	        Name:      "critical",
//	        RateLimit: 100,
//	    }),
//	)
//
// [Open] is the one-call variant: it constructs the backend named by
// the configuration, runs migrations, and hands ownership of the
// connection to the engine.
//
// # Registering Work
//
//	// Jobs
//	engine.Register(eng, job.NewDefinition("send-email", sendEmail))
//
//	// Cron entries
//	engine.RegisterCron(ctx, eng, cron.NewDefinition(
//	    "nightly-report", "0 2 * * *", "build-report", ReportArgs{}))
//
// # Producing and Inspecting
//
//	j, err := eng.Enqueue(ctx, "send-email", args,
//	    job.WithQueue("email"), job.WithPriority(job.PriorityHigh))
//
//	j, err = eng.Schedule(ctx, "send-email", args, time.Now().Add(time.Hour))
//
//	stats, err := eng.Stats(ctx, "email")
//	dead, err := eng.DeadLetters(ctx, "email", 50, 0)
//
// Start launches the worker pool, the cron scheduler, and the cluster
// registration for this process; Stop drains them in reverse order.
package engine
