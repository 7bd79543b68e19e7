package confirm

import (
	"context"
	"fmt"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
)

const pollInterval = 200 * time.Millisecond

// AwaitResponse returns a Callback that waits for an out-of-band decision
// arriving through Gate.Respond — the mechanism behind the HTTP
// confirmation endpoint. The callback polls the request's status until it
// leaves pending or the gate's deadline fires.
func AwaitResponse(g *Gate) Callback {
	return func(ctx context.Context, req *models.ConfirmationRequest) (bool, error) {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-ticker.C:
				cur, ok := g.Get(req.ID)
				if !ok {
					return false, fmt.Errorf("confirmation %q disappeared", req.ID)
				}
				switch cur.Status {
				case models.ConfirmationConfirmed:
					return true, nil
				case models.ConfirmationDenied:
					return false, nil
				case models.ConfirmationExpired:
					return false, context.DeadlineExceeded
				}
			}
		}
	}
}
