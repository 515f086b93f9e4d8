package offline

// Metric names reported to stats.Tracker.
const (
	MetricNetwork       = "offline_network"        // Responses delivered from network.
	MetricNetworkFailed = "offline_network_failed" // Network failures of intercepted requests.
	MetricPassThrough   = "offline_pass_through"   // Requests not eligible for interception.
	MetricStored        = "offline_stored"         // Responses written to cache.
	MetricStoreFailed   = "offline_store_failed"   // Failed background cache writes.
	MetricChanged       = "offline_changed"        // Overwrites with different body.
	MetricCacheHit      = "offline_cache_hit"      // Fallback served from cache.
	MetricOfflinePage   = "offline_page"           // Fallback served with offline page.
	MetricUnavailable   = "offline_unavailable"    // Synthetic 503 responses.
	MetricInstalled     = "offline_installed"      // Completed install transitions.
	MetricInstallFailed = "offline_install_failed" // Manifest assets that failed to populate.
	MetricActivated     = "offline_activated"      // Completed activate transitions.
	MetricEvicted       = "offline_evicted"        // Deleted stale generations.
	MetricEvictFailed   = "offline_evict_failed"   // Failed stale generation deletions.
	MetricSkipWaiting   = "offline_skip_waiting"   // Skip waiting requests.
	MetricSync          = "offline_sync"           // Handled sync events.
	MetricSyncPosted    = "offline_sync_posted"    // Sync messages posted to clients.
	MetricMessage       = "offline_message"        // Received control messages.
	MetricClients       = "offline_clients"        // Gauge of connected clients.
)
