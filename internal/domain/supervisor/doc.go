/*
Package supervisor owns the lifecycle of the embedded server process.

Every caller that needs the process goes through EnsureReady, which returns a
Token bound to the current generation. A boot runs Prepare (version gate),
Mount (blocking load sync), starts the process, polls its readiness signal,
commits the version tag and starts the generation's flush loop. When the
process terminates its attached resources are closed and the next
generation boots automatically.

	Idle -> Booting -> Ready -> Crashed -> Booting -> ...
	           |
	           v
	        Failed -> Booting (on the next EnsureReady)

Repeated boot failures open a breaker that refuses boots for a cooldown.
*/
package supervisor
