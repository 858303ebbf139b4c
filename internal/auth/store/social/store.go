// Package social persists the links between local users and external
// provider identities.
package social

// FieldProviderSubject is reported through sentinel.UniqueViolation when a
// (provider, subject) pair is already linked.
const FieldProviderSubject = "provider_subject"
