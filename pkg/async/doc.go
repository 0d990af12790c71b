// Package async provides small generic helpers for asynchronous results.
//
// The package is centred around Future, the eventual result of an operation.
// A Future is produced either by Async, which runs a function in its own
// goroutine, or by NewPromise, which hands the caller the resolve and reject
// functions so the result can be settled from anywhere (a callback, a test, a
// network client). Resolved and Rejected build futures that are already
// settled.
//
// Consumers wait with Await, bound the wait with AwaitWithTimeout, poll with
// IsComplete or select on Done alongside other channels.
//
// # Usage
//
//	future := async.Async(ctx, 42, func(_ context.Context, v int) (string, error) {
//	    return fmt.Sprintf("value is %d", v), nil
//	})
//	res, err := future.Await()
//
//	promise, resolve, reject := async.NewPromise[any]()
//	go func() {
//	    if data, err := fetch(); err != nil {
//	        reject(err)
//	    } else {
//	        resolve(data)
//	    }
//	}()
//
// # Error Handling
//
// Futures carry the error returned by the user callback or passed to reject.
// AwaitWithTimeout returns ErrTimeout when the deadline passes first.
//
// A Future settles exactly once; subsequent resolve or reject calls are
// silently ignored.
package async
