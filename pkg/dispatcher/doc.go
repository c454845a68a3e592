/*
Package dispatcher bridges the blocking protocol loop to the record source.

A Dispatcher owns a fixed number of worker slots, sized independently from the
number of accepted connections, and is the single backpressure point of the
process. Resolve takes a slot, starts the fetch on its own goroutine and races
it against the caller's deadline:

	set, ok := d.Resolve(ctx, "www.example.com", time.Second)
	if !ok {
		// answer negatively
	}

When the deadline expires the fetch context is cancelled and Resolve returns
at once. The goroutine keeps its slot until the fetch actually returns, so a
slow record source can never leak slots. Callers that find every slot busy
wait in a bounded queue; when the queue is full the call is answered absent
without waiting.
*/
package dispatcher
