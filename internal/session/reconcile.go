package session

import "github.com/stemsi/mocktest-backend/internal/model"

// Source tells which store seeded a session.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
	SourceNone   Source = "none"
)

// Reconcile picks the effective snapshot at mount: the remote record wins
// whenever it exists, the local mirror is used only when it does not.
// The returned snapshot never shares maps with its inputs.
func Reconcile(remote *model.Result, local *model.Snapshot) (model.Snapshot, Source) {
	switch {
	case remote != nil:
		return remote.Snapshot.Clone(), SourceRemote
	case local != nil:
		return local.Clone(), SourceLocal
	default:
		return model.NewSnapshot(), SourceNone
	}
}
