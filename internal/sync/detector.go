package sync

import (
	"context"

	"github.com/nhle/mailwatch/internal/source"
)

// Result is the outcome of one CheckNew call.
type Result struct {
	Header *source.Header
	IsNew  bool
}

// CheckNew reports whether the newest message in the session's mailbox
// differs from previous, fetching its header if so. UIDs are compared as
// opaque strings. A newest message that vanishes before its header can be
// fetched is reported as not new, so the caller keeps its watermark and
// re-evaluates on the next check. CheckNew never mutates state.
func CheckNew(
	ctx context.Context, sess source.Session, previous string,
) (Result, error) {
	uids, err := sess.ListUIDs(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(uids) == 0 {
		return Result{}, nil
	}

	newest := uids[len(uids)-1]
	if newest == previous {
		return Result{}, nil
	}

	h, err := sess.FetchHeader(ctx, newest)
	if err != nil {
		return Result{}, err
	}
	if h == nil {
		return Result{}, nil
	}
	return Result{Header: h, IsNew: true}, nil
}
