// Package remote fetches record sets from the HTTP record source.
//
// Requests go to /fqdn/<api version>/<hostname> with digest authentication.
// Bodies above MaxResponseSize are refused. A connection reset by the peer is
// retried on a fresh connection up to MaxAttempts times; every other failure
// is returned at once as one of the sentinel errors.
package remote
