package core

// Well-known service names shared between modules. Producers register
// during Provision; consumers resolve during Start.
const (
	ServiceStore      = "ledger.store"
	ServiceCounters   = "ledger.counters"
	ServiceProofs     = "wallet.proofs"
	ServiceHistory    = "wallet.history"
	ServiceWallets    = "wallet.provider"
	ServiceKeysets    = "wallet.keysets"
	ServiceMinter     = "wallet.minter"
	ServiceKeys       = "keys.resolver"
	ServiceMessenger  = "messenger.dm"
	ServiceDMHandler  = "messenger.handler"
	ServiceSignals    = "bus.signals"
	ServiceRedactor   = "security.redactor"
	ServiceAudit      = "security.audit"
	ServiceLimiter    = "security.ratelimiter"
	ServiceAutoRedeem = "redeem.auto"
	ServiceReload     = "reload.handler"
	ServiceConfigPath = "config.path"
	ServiceWebhooks   = "gateway.webhooks"
)
