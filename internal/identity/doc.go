// Package identity resolves a message sender to a phone address or an opaque
// identifier.
//
// A message key may carry up to four sender identifiers (remote address, its
// alternate, participant, participant alternate) in either form. The
// resolvers pick the first identifier of the requested form, let the
// account's MappingStore override it, and strip any device qualifier. When
// the mapping is unavailable they log ErrMappingUnavailable and fall back to
// the best candidate, which may be empty.
//
// MappingStore keeps phone↔opaque pairs in the account key store's
// lid-mapping category, with a TTL cache in front and the engine's existence
// query as the last resort for phone→opaque.
package identity
