// Package orgcache builds and serves a denormalized, bidirectional cache of
// the companies, projects, and users in one account, so that membership
// questions in either direction are answered in O(1) without touching the
// network.
//
// One build fetches the three account-level collections, derives the
// company↔project relation by querying two endpoints per project (the
// upstream API has no direct endpoint for it), and assembles two trees: a
// company-rooted tree (company → projects → members, plus the full company
// roster) and a project-rooted tree (project → members, project →
// companies). Both trees come from the same fetch pass and share one
// timestamp. Every list at every level is sorted ascending by
// case-insensitive name, ties keeping fetch order.
//
// ## Build Coordination
//
// At most one build runs at a time. A Build call while another is running
// fails immediately with ErrBuildInProgress; it does not queue. Builds
// report coarse progress milestones to any channels attached via OnProgress;
// delivery is best effort and never affects the build.
//
// ## Refresh
//
// A timer raises a flag roughly once per refresh interval. The next read
// access checks the flag and, if the current generation is older than the
// configured max age, launches a background rebuild. This way an idle cache
// does no background work, and explicit Build calls bypass the staleness
// check entirely.
//
// ## Persistence
//
// Each successful build replaces the previous generation wholesale, in
// memory and in the configured datastore. Both trees and their shared
// timestamp are committed in one batch, so a datastore reader never observes
// trees from different generations. A failed build changes nothing: the
// previous generation stays readable and staleness keeps being judged
// against the last successful timestamp.
//
// ## Partial Upstream Capability
//
// The per-project association endpoints are not supported for every project
// platform. A project whose association fetches fail contributes empty
// associations to this generation instead of failing the build; the effect
// is visible only in logs and in lower association counts.
package orgcache
