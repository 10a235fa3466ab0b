/*
Package api exposes the operational endpoints of the ADCM job processes.

The job subsystem has no request API of its own; actions enter through the
Task Builder (adcmctl task run). What this package serves is what operators
and orchestrators need to watch the scheduler and worker processes.

# HTTP

HealthServer serves these endpoints on METRICS_ADDR:

	GET /health      liveness with version, 200 while the process is up
	GET /live        liveness with uptime
	GET /ready       200 when the store answers and every critical
	                 component registered in pkg/metrics is ready
	GET /components  every registered component; 503 when any is
	                 unhealthy
	GET /metrics     Prometheus exposition (promhttp)

Example readiness response:

	{
	  "status": "ready",
	  "timestamp": "2026-03-01T12:00:00Z",
	  "checks": {
	    "store": "ok",
	    "launcher": "ready",
	    "monitor": "ready"
	  }
	}

# gRPC

Server registers the standard grpc.health.v1.Health service on GRPC_ADDR.
The empty service name reports the supervisor itself; every scheduler loop
is its own service whose status follows the loop process:

	""          SERVING while the supervisor runs
	launcher    SERVING while the launcher process is up
	monitor     SERVING while the monitor process is up
	recoverer   SERVING during the boot recovery pass

The supervisor passes Server.SetLoopStatus as its status hook so the gRPC
status and /ready stay in step. pkg/client is the client side used by
`adcmctl health`.

All unary calls go through LoggingInterceptor, which logs method, code and
duration through zerolog.
*/
package api
