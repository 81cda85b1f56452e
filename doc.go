// Package routeflow is a lightweight integration-routing engine.
//
// A user declares routes; each route continuously moves messages from a
// single source endpoint through an ordered chain of processors to one or
// more destination endpoints. Endpoints are URIs naming a scheme and its
// parameters:
//
//	routes:
//	  - name: ticks
//	    from: "timer://500ms"
//	    processors:
//	      - type: filter
//	        condition: "{{tick_id}} > 2"
//	      - type: external
//	        command: ["python3", "scripts/score.py"]
//	        config:
//	          threshold: 0.5
//	    to:
//	      - "log://"
//	      - "mqtt://{{BROKER|default('localhost')}}:1883/ticks"
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        Engine supervisor            │  concurrency cap, pending set,
//	│  (start, stop, status, shutdown)    │  hierarchical cancellation
//	└─────────────────────────────────────┘
//	           ↓ runs
//	┌─────────────────────────────────────┐
//	│         Route executors             │  source → bounded queue →
//	│ (queue, chain, fan-out, state)      │  processors → fan-out sinks
//	└─────────────────────────────────────┘
//	           ↓ drive
//	┌─────────────────────────────────────┐
//	│       Endpoint drivers              │  timer, file, http, udp, mqtt,
//	│     (sources and sinks)             │  nats, kafka, log, ws + stubs
//	└─────────────────────────────────────┘
//
// Messages are dynamic string-keyed maps (package message) carrying at
// minimum timestamp, source, and route. Processors are filter, transform,
// aggregate, debug, and external — the last delegates one message at a time
// to a subprocess in any language via temporary JSON input and output files.
//
// The engine holds no persistent state: aggregate windows in flight at
// shutdown are flushed best-effort and lost. Per-message failures never
// cancel a route; per-route startup failures never cancel peer routes.
package routeflow
