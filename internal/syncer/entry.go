package syncer

import (
	"fmt"

	"github.com/dgnsrekt/cms-sync/internal/api"
)

type kind string

const (
	kindContent kind = "content"
	kindPage    kind = "page"
)

// entry is one item or page from a sync batch, waiting to be applied.
type entry struct {
	Kind     kind
	Language string
	Item     *api.ContentItem
	Page     *api.Page
}

func (e entry) ID() int64 {
	if e.Kind == kindPage {
		return e.Page.PageID
	}
	return e.Item.ContentID
}

func (e entry) Deleted() bool {
	if e.Kind == kindPage {
		return e.Page.Deleted()
	}
	return e.Item.Deleted()
}

func (e entry) String() string {
	return fmt.Sprintf("%s/%s/%d", e.Language, e.Kind, e.ID())
}

type entryResult struct {
	Entry   entry
	Deleted bool
	Error   error
}

// BatchResult counts what happened to one applied batch.
type BatchResult struct {
	Total   int
	Saved   int
	Deleted int
	Failed  int
	Errors  []string
}
