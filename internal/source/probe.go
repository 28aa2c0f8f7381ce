package source

import (
	"context"
	"errors"
)

// ProbeResult is the outcome of a one-shot credential check.
type ProbeResult struct {
	OK      bool
	Message string
}

// Probe validates credentials by opening a session (which selects the
// mailbox) and closing it again. It never returns an error: failures are
// reported through ProbeResult.Message. Probe does not touch any persisted
// state.
func Probe(ctx context.Context, d Dialer, account, secret string) ProbeResult {
	sess, err := d.Open(ctx, account, secret)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return ProbeResult{Message: authErr.Message}
		}
		return ProbeResult{Message: err.Error()}
	}
	_ = sess.Close()
	return ProbeResult{OK: true}
}

// RecentHeaders opens a short-lived session and returns the headers of the
// n most recent messages, oldest first. Messages that vanish between the
// listing and the fetch are skipped.
func RecentHeaders(
	ctx context.Context, d Dialer, account, secret string, n int,
) ([]Header, error) {
	sess, err := d.Open(ctx, account, secret)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()

	uids, err := sess.ListUIDs(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(uids) > n {
		uids = uids[len(uids)-n:]
	}

	headers := make([]Header, 0, len(uids))
	for _, uid := range uids {
		h, err := sess.FetchHeader(ctx, uid)
		if err != nil {
			return headers, err
		}
		if h == nil {
			continue
		}
		headers = append(headers, *h)
	}
	return headers, nil
}
