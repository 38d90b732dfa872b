/*
Package resilience provides a consecutive-failure circuit breaker.

The supervisor guards process boots with it so a server program that keeps
crashing during startup is not restarted in a tight loop, and the upstream
forwarder guards pass-through traffic with it so a dead origin fails fast.

# Usage

	guard := resilience.New("boot", resilience.Settings{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	})

	err := guard.Execute(func() error {
		return boot(ctx)
	})
	if errors.Is(err, resilience.ErrOpen) {
		// cooling down
	}

# States

	Closed --[threshold failures]-> Open --[cooldown]-> Half-Open --[success]-> Closed
	                                  ^                     |
	                                  +------[failure]------+
*/
package resilience
