// Package fakes provides test doubles for the cloud SDK clients behind the
// secret store backends.
//
// The fakes are written by hand rather than generated so tests can inject
// per-call errors and count calls. They keep values in memory and honour
// the SDK error types the backends translate (ResourceExistsException,
// ResourceNotFoundException, gRPC AlreadyExists and NotFound).
//
// Usage:
//
//	fake := fakes.NewFakeSecretsManagerClient()
//	fake.AddError("CreateSecret", "svc-keys/private", throttled)
//	store, err := awssm.New(ctx, cfg, awssm.WithClient(fake))
package fakes
