// Package intentstream provides utterance routing over a NATS message bus:
// one recognized utterance is delivered to exactly one handler chosen from a
// dynamically registered, heterogeneous set of competing handlers, under a
// strict priority order and bounded latency.
//
// # Architecture
//
// IntentStream layers an ordered matching pipeline over a publish/subscribe
// transport:
//
//	┌─────────────────────────────────────┐
//	│         Utterance Router            │  transform → language →
//	│   (nine ordered matching stages)    │  first-match-wins sequence
//	└─────────────────────────────────────┘
//	           ↓ dispatches to
//	┌─────────────────────────────────────┐
//	│        Matcher Capabilities         │  converse, statistical tiers,
//	│   (external, opaque, may decline)   │  keyword, question answering
//	└─────────────────────────────────────┘
//	           ↓ falls back to
//	┌─────────────────────────────────────┐
//	│    Fallback Registry + Broadcast    │  priority bands, ping/pong
//	│  (dynamic handlers, legacy compat)  │  discovery, bounded timeouts
//	└─────────────────────────────────────┘
//	           ↓ communicate via
//	┌─────────────────────────────────────┐
//	│          NATS message bus           │  pub/sub + correlated
//	│        (package busclient)          │  request/response futures
//	└─────────────────────────────────────┘
//
// The router attempts stages strictly in sequence and never speculatively in
// parallel, which keeps "who answered" deterministic and prevents one
// utterance from being handled twice. Every wait in the pipeline carries an
// explicit timeout, so the router always returns a result even when handlers
// are slow, dead, or misbehaving.
//
// # Packages
//
//   - busclient: NATS connection management, scoped subscriptions, and the
//     correlated request/response primitive
//   - message: the {type, data, context} envelope shared with skills
//   - match: match records and the Matcher capability contract
//   - router: the top-level routing pipeline
//   - fallback: handler registry and priority-band broadcast protocol
//   - converse: active-skill bookkeeping and the converse stage
//   - matchers: bus-backed statistical/keyword/QA capability adapters
//   - transformer: utterance and metadata transformer chains
//   - service: the bus-facing subscriptions and their lifecycle
//   - config, errors, metric: configuration, error taxonomy, observability
package intentstream
