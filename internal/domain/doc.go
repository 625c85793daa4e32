// Package domain defines the read-side vocabulary shared by every projector
// component: identities, commit positions, tagged events and changesets.
//
// Import Path: readmodel.dev/projector/internal/domain
package domain
