package tierkv

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the manager calls them on
// hot paths. Wrap with hooks/async to decouple slow consumers.
type Hooks interface {
	// One CAS call against the authoritative handle completed.
	// A transport failure counts as success=false.
	CASAttempt(storageKey string, success bool)

	// A CAS call lost to a concurrent writer; attempt is 0-based.
	CASConflict(storageKey string, attempt int)

	// An Update gave up after maxRetries additional attempts.
	RetriesExhausted(storageKey string, maxRetries int)

	// A read hit at chain index hitIndex was copied into the faster tiers.
	Backfill(storageKey string, hitIndex int)

	// A non-primary handle failed during fan-out; the call result was not
	// affected.
	SecondaryFailure(handleName, op string, err error)

	// An undecodable entry was deleted from a handle on read.
	SelfHeal(handleName, storageKey string)

	// ClearRegion skipped a handle whose backend cannot enumerate keys.
	RegionClearSkipped(handleName string)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) CASAttempt(string, bool)              {}
func (NopHooks) CASConflict(string, int)              {}
func (NopHooks) RetriesExhausted(string, int)         {}
func (NopHooks) Backfill(string, int)                 {}
func (NopHooks) SecondaryFailure(string, string, error) {}
func (NopHooks) SelfHeal(string, string)              {}
func (NopHooks) RegionClearSkipped(string)            {}
