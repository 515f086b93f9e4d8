// Package offline implements a network-first offline cache mediator for web applications.
//
// Mediator sits between an application and its origin as an http.RoundTripper and keeps the
// application usable when the network is unreachable.
//
// Features:
//
//   - Network-first policy with cache fallback, HTML offline page and synthetic 503.
//   - Versioned cache generations, populated on install and pruned on activate.
//   - Background cache writes that never delay or fail the delivered response.
//   - Explicit lifecycle state with waiting hold and on-demand skip waiting.
//   - Deferred sync notification relayed to connected application instances.
//   - Registered task set to await all pending work before shutdown.
//   - Allows logging and stats collection, propagates context.
//   - Dump and restore of cache generations in binary format.
package offline
