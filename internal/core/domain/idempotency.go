package domain

// BuildInitiationKey scopes an idempotency key to its payer. Keys are unique
// per payer, never globally.
func BuildInitiationKey(payerID, idempotencyKey string) string {
	return payerID + ":" + idempotencyKey
}
