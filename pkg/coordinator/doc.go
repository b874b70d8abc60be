// Package coordinator implements Coordinator Services (C8, spec.md
// §4.8): the source catalog, the query catalog, the topology registry,
// and the shared/global plan manager, plus the internal services that
// deployment (C7) and the external REST surface (pkg/api) consume.
//
// Deadlock across catalogs is avoided by never holding more than one
// catalog's lock at a time: each catalog locks only inside its own
// methods.
package coordinator
