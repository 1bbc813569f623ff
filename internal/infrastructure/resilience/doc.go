/*
Package resilience provides circuit breakers for upstream fetches.

The fetch client keeps one Breaker per host in a Set: a host that keeps
failing class or dependency fetches is short-circuited with ErrCircuitOpen
instead of stalling every gadget declaration on retries.

# Usage

	breakers := resilience.NewSet("fetch", resilience.Settings{
		MaxRequests: 1,
		Cooldown:    30 * time.Second,
		IsFailure: func(err error) bool {
			return !isClientError(err)
		},
	})

	err := breakers.Get(host).Execute(func() error {
		return doFetch()
	})

# States

	Closed --[ReadyToTrip]-> Open --[Cooldown]-> Half-Open --[MaxRequests successes]-> Closed
	                                                 |
	                                             [failure]
	                                                 v
	                                                Open
*/
package resilience
