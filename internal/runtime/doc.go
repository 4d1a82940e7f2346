// Package runtime wires the store, script catalog, and coordination facades
// into a single tradepost instance. It exposes Open/Close, a health check,
// and helpers to open the primitives used by higher-level services.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	q, _ := rt.OpenQueue("notify", dispatcher)
//	q.Pollers.Start()
package runtime
